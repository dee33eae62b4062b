package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reconcile/internal/api"
	"reconcile/internal/authority"
	"reconcile/internal/client"
	"reconcile/internal/reconcile"
	"reconcile/internal/review"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var interactive bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the authority for candidates",
		Long: "Search the authority for candidates.\n\n" +
			"With --interactive each line read from stdin replaces the query; lookups\n" +
			"are debounced and only the newest query's results are printed.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if interactive {
					cfg, err := ctx.ensureConfig()
					if err != nil {
						return err
					}
					delay := time.Duration(cfg.Reconcile.SearchDebounceMillis) * time.Millisecond
					return interactiveSearch(cmd, c, delay, cfg.Reconcile.SearchMinLength)
				}
				query := strings.Join(args, " ")
				candidates, err := c.Search(cmd.Context(), query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.SearchResponse{Query: strings.TrimSpace(query), Candidates: candidates})
				}
				printCandidates(cmd.OutOrStdout(), candidates)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read successive queries from stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func interactiveSearch(cmd *cobra.Command, searcher authority.Searcher, delay time.Duration, minLength int) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	debouncer := review.NewDebouncer(parent, searcher, delay, minLength)
	defer debouncer.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-parent.Done():
				return
			}
		}
	}()

	out := cmd.OutOrStdout()
	var last uint64
	pending := false
	input := lines
	for input != nil || pending {
		select {
		case line, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			last = debouncer.Submit(line)
			_, err := authority.ValidateQuery(line, minLength)
			pending = err == nil
		case result, ok := <-debouncer.Results():
			if !ok {
				return nil
			}
			if result.Token != last {
				continue
			}
			pending = false
			fmt.Fprintf(out, "Results for %q:\n", result.Query)
			if result.Err != nil {
				fmt.Fprintf(out, "  search failed: %v\n", result.Err)
				continue
			}
			printCandidates(out, result.Candidates)
		case <-parent.Done():
			return parent.Err()
		}
	}
	return nil
}

// findRow loads the stored row for sourceValue.
func findRow(cmd *cobra.Command, c *client.Client, entity, field, sourceValue string) (reconcile.ClassifiedRow, error) {
	resp, err := c.Rows(cmd.Context(), entity, field, client.RowsQuery{Query: sourceValue})
	if err != nil {
		return reconcile.ClassifiedRow{}, err
	}
	for _, row := range resp.Rows {
		if row.SourceValue == sourceValue {
			return row, nil
		}
	}
	return reconcile.ClassifiedRow{}, fmt.Errorf("row %q not found in %s.%s", sourceValue, entity, field)
}

func pickCandidate(row reconcile.ClassifiedRow, candidateID string) (reconcile.Candidate, error) {
	if len(row.Candidates) == 0 {
		return reconcile.Candidate{}, fmt.Errorf("row %q has no candidates; use --search to look up alternatives", row.SourceValue)
	}
	if strings.TrimSpace(candidateID) == "" {
		return row.Candidates[0], nil
	}
	for _, candidate := range row.Candidates {
		if candidate.ID == candidateID {
			return candidate, nil
		}
	}
	return reconcile.Candidate{}, fmt.Errorf("candidate %q is not listed for %q; use --search to accept an alternative", candidateID, row.SourceValue)
}

func newAcceptCommand(ctx *commandContext) *cobra.Command {
	var candidateID string
	var searchQuery string
	var cascade bool

	cmd := &cobra.Command{
		Use:   "accept <entity> <field> <source-value>",
		Short: "Accept a candidate for a row",
		Long: "Accept a candidate for a row. Without --candidate the top candidate is used.\n" +
			"With --search the candidate is taken from a free-text search instead.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, field, value := args[0], args[1], args[2]
			return ctx.withClient(func(c *client.Client) error {
				var result api.MappingResponse
				var write func(bool) error
				if strings.TrimSpace(searchQuery) != "" {
					if strings.TrimSpace(candidateID) == "" {
						return errors.New("--candidate is required with --search")
					}
					write = func(cascade bool) (err error) {
						result, err = c.AcceptAlternative(cmd.Context(), entity, field, value, api.AlternativeAcceptRequest{
							Query:       searchQuery,
							CandidateID: candidateID,
							Cascade:     cascade,
						})
						return err
					}
				} else {
					row, err := findRow(cmd, c, entity, field, value)
					if err != nil {
						return err
					}
					candidate, err := pickCandidate(row, candidateID)
					if err != nil {
						return err
					}
					write = func(cascade bool) (err error) {
						result, err = c.Accept(cmd.Context(), entity, field, value, candidate, cascade)
						return err
					}
				}
				if err := withCascadeConfirm(cmd, cascade, write); err != nil {
					return err
				}
				printMappingResult(cmd.OutOrStdout(), value, result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&candidateID, "candidate", "", "Candidate ID to accept")
	cmd.Flags().StringVar(&searchQuery, "search", "", "Accept a result of this free-text search")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Unmaterialize dependent entities without asking")
	return cmd
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	var candidateID string

	cmd := &cobra.Command{
		Use:   "reject <entity> <field> <source-value>",
		Short: "Record that a candidate is wrong for a row",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, field, value := args[0], args[1], args[2]
			return ctx.withClient(func(c *client.Client) error {
				row, err := findRow(cmd, c, entity, field, value)
				if err != nil {
					return err
				}
				candidate, err := pickCandidate(row, candidateID)
				if err != nil {
					return err
				}
				if err := c.Reject(cmd.Context(), entity, field, value, candidate); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s for %s\n", candidate.ID, value)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&candidateID, "candidate", "", "Candidate ID to reject (default: top candidate)")
	return cmd
}

func newUnmatchCommand(ctx *commandContext) *cobra.Command {
	var note string
	var clearMark bool
	var cascade bool

	cmd := &cobra.Command{
		Use:   "unmatch <entity> <field> <source-value>",
		Short: "Mark a row will-not-match, or clear the mark with --clear",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, field, value := args[0], args[1], args[2]
			if cascade && !clearMark {
				return errors.New("--cascade applies only with --clear; marking will-not-match always unmaterializes dependents")
			}
			return ctx.withClient(func(c *client.Client) error {
				var result api.MappingResponse
				if !clearMark {
					var notes *string
					if cmd.Flags().Changed("note") {
						notes = &note
					}
					var err error
					result, err = c.MarkUnmatched(cmd.Context(), entity, field, value, notes)
					if err != nil {
						return err
					}
					printMappingResult(cmd.OutOrStdout(), value, result)
					return nil
				}
				write := func(cascade bool) (err error) {
					result, err = c.ClearUnmatched(cmd.Context(), entity, field, value, cascade)
					return err
				}
				if err := withCascadeConfirm(cmd, cascade, write); err != nil {
					return err
				}
				printMappingResult(cmd.OutOrStdout(), value, result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Note recorded with the will-not-match mark")
	cmd.Flags().BoolVar(&clearMark, "clear", false, "Clear the will-not-match mark")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "With --clear, unmaterialize dependent entities without asking")
	return cmd
}

func newMapCommand(ctx *commandContext) *cobra.Command {
	var note string
	var cascade bool

	cmd := &cobra.Command{
		Use:   "map <entity> <field> <source-value> <target-id|->",
		Short: "Set a row's target directly; '-' clears it",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, field, value := args[0], args[1], args[2]
			req := api.MappingRequest{SourceValue: value}
			if target := strings.TrimSpace(args[3]); target != "-" {
				req.TargetID = &target
			}
			if cmd.Flags().Changed("note") {
				req.Notes = &note
			}
			return ctx.withClient(func(c *client.Client) error {
				var result api.MappingResponse
				write := func(cascade bool) (err error) {
					req.Cascade = cascade
					result, err = c.UpdateMapping(cmd.Context(), entity, field, req)
					return err
				}
				if err := withCascadeConfirm(cmd, cascade, write); err != nil {
					return err
				}
				printMappingResult(cmd.OutOrStdout(), value, result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Replace the row's notes")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Unmaterialize dependent entities without asking")
	return cmd
}
