package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reconcile/internal/api"
	"reconcile/internal/client"
	"reconcile/internal/config"
	"reconcile/internal/reconcile"
)

func newRowsCommand(ctx *commandContext) *cobra.Command {
	var buckets []string
	var query string
	var autoAccept, review float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rows <entity> <field>",
		Short: "List classified rows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowsQuery := client.RowsQuery{Query: query}
			for _, raw := range buckets {
				for _, part := range strings.Split(raw, ",") {
					if strings.TrimSpace(part) == "" {
						continue
					}
					status, err := reconcile.ParseStatus(part)
					if err != nil {
						return err
					}
					rowsQuery.Buckets = append(rowsQuery.Buckets, status)
				}
			}
			if cmd.Flags().Changed("auto-accept") {
				rowsQuery.AutoAccept = &autoAccept
			}
			if cmd.Flags().Changed("review") {
				rowsQuery.Review = &review
			}
			return ctx.withClient(func(c *client.Client) error {
				resp, err := c.Rows(cmd.Context(), args[0], args[1], rowsQuery)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printRows(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&buckets, "bucket", "b", nil, "Only show these buckets (auto-accepted, needs-review, unmatched, will-not-match)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Filter by source value, matched name, or notes")
	cmd.Flags().Float64Var(&autoAccept, "auto-accept", 0, "Preview with this auto-accept threshold (0-1)")
	cmd.Flags().Float64Var(&review, "review", 0, "Preview with this review threshold (0-1)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printRows(out io.Writer, resp api.RowsResponse) {
	s := resp.Summary
	fmt.Fprintf(out, "%s.%s: %d rows, %d auto-accepted, %d need review, %d unmatched, %d will not match (thresholds %.2f/%.2f)\n",
		resp.Entity, resp.TargetField, s.Total, s.AutoAccepted, s.NeedsReview, s.Unmatched, s.WillNotMatch,
		resp.Thresholds.AutoAccept, resp.Thresholds.Review)
	if len(resp.Rows) == 0 {
		return
	}
	rows := make([][]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		top := "-"
		if len(row.Candidates) > 0 {
			top = fmt.Sprintf("%s (%.0f)", row.Candidates[0].Name, row.Candidates[0].Confidence())
		}
		rows = append(rows, []string{
			row.SourceValue,
			string(row.Status),
			formatConfidence(row.BestConfidence()),
			formatTarget(row.TargetID),
			dashIfEmpty(row.MatchedName),
			top,
			formatNotes(row.Notes),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Source value", "Status", "Confidence", "Target", "Matched name", "Top candidate", "Notes"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	))
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <entity> <field>",
		Short: "Export mappings as CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				path := strings.TrimSpace(outputPath)
				if path == "" || path == "-" {
					return c.Export(cmd.Context(), args[0], args[1], cmd.OutOrStdout())
				}
				expanded, err := config.ExpandPath(path)
				if err != nil {
					return err
				}
				file, err := os.Create(expanded)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				if err := c.Export(cmd.Context(), args[0], args[1], file); err != nil {
					file.Close()
					return err
				}
				if err := file.Close(); err != nil {
					return fmt.Errorf("close export file: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", expanded)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination file (default stdout)")
	return cmd
}

const importBatchSize = 500

func newImportCommand(ctx *commandContext) *cobra.Command {
	var column string
	var keyColumns []string

	cmd := &cobra.Command{
		Use:   "import <entity> <field> <file.csv>",
		Short: "Import source rows from a CSV file with a header row",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, field := args[0], args[1]
			sourceColumn := strings.TrimSpace(column)
			if sourceColumn == "" {
				sourceColumn = field
			}
			path, err := config.ExpandPath(args[2])
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer file.Close()
			records, err := readImportRecords(file, sourceColumn, keyColumns)
			if err != nil {
				return err
			}

			return ctx.withClient(func(c *client.Client) error {
				var total api.ImportResponse
				for start := 0; start < len(records); start += importBatchSize {
					end := min(start+importBatchSize, len(records))
					resp, err := c.Import(cmd.Context(), entity, field, records[start:end])
					if err != nil {
						return fmt.Errorf("import rows %d-%d: %w", start+1, end, err)
					}
					total.Inserted += resp.Inserted
					total.Duplicates += resp.Duplicates
					total.Blank += resp.Blank
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows into %s.%s (%d duplicates, %d blank skipped)\n",
					total.Inserted, entity, field, total.Duplicates, total.Blank)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "CSV column holding the source value (default: the field name)")
	cmd.Flags().StringSliceVar(&keyColumns, "key", nil, "CSV columns that identify the source record")
	return cmd
}

func readImportRecords(r io.Reader, sourceColumn string, keyColumns []string) ([]api.ImportRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("import file is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	sourceIdx, ok := index[sourceColumn]
	if !ok {
		return nil, fmt.Errorf("column %q not found in header", sourceColumn)
	}
	keyIdx := make([]int, 0, len(keyColumns))
	for _, name := range keyColumns {
		idx, ok := index[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("key column %q not found in header", name)
		}
		keyIdx = append(keyIdx, idx)
	}

	var records []api.ImportRecord
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		cell := func(i int) string {
			if i < len(fields) {
				return fields[i]
			}
			return ""
		}
		record := api.ImportRecord{SourceValue: cell(sourceIdx), Values: make(map[string]string, len(header))}
		for _, idx := range keyIdx {
			record.Key = append(record.Key, cell(idx))
		}
		for name, idx := range index {
			if idx != sourceIdx {
				record.Values[name] = cell(idx)
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func newSpecCommand(ctx *commandContext) *cobra.Command {
	var autoAccept, review float64
	var properties map[string]string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "spec <entity> <field>",
		Short: "Show or update thresholds and property mappings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				spec, err := c.Spec(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("auto-accept") || flags.Changed("review") || flags.Changed("property") {
					req := api.SpecRequest{
						AutoAcceptThreshold: spec.Thresholds.AutoAccept,
						ReviewThreshold:     spec.Thresholds.Review,
						PropertyMappings:    spec.PropertyMappings,
					}
					if flags.Changed("auto-accept") {
						req.AutoAcceptThreshold = autoAccept
					}
					if flags.Changed("review") {
						req.ReviewThreshold = review
					}
					if flags.Changed("property") {
						req.PropertyMappings = properties
					}
					if spec, err = c.UpdateSpec(cmd.Context(), args[0], args[1], req); err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, spec)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Field:        %s.%s\n", spec.Entity, spec.TargetField)
				fmt.Fprintf(out, "Auto-accept:  %.2f\n", spec.Thresholds.AutoAccept)
				fmt.Fprintf(out, "Review:       %.2f\n", spec.Thresholds.Review)
				for _, name := range spec.Properties() {
					fmt.Fprintf(out, "Property:     %s -> %s\n", name, spec.PropertyMappings[name])
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&autoAccept, "auto-accept", 0, "Set the auto-accept threshold (0-1)")
	cmd.Flags().Float64Var(&review, "review", 0, "Set the review threshold (0-1)")
	cmd.Flags().StringToStringVar(&properties, "property", nil, "Replace property mappings (column=authority_property)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
