package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reconcile/internal/api"
	"reconcile/internal/client"
	"reconcile/internal/operation"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var autoAccept, review float64
	var detach bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <entity> <field>",
		Short: "Start a batch reconciliation and follow its progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.StartRequest{Entity: args[0], TargetField: args[1]}
			if cmd.Flags().Changed("auto-accept") {
				req.AutoAcceptThreshold = &autoAccept
			}
			if cmd.Flags().Changed("review") {
				req.ReviewThreshold = &review
			}
			return ctx.withClient(func(c *client.Client) error {
				id, err := c.Start(cmd.Context(), req)
				if err != nil {
					if client.IsType(err, api.ErrorTypeOperationActive) {
						return fmt.Errorf("%w; follow it with `reconcile status` or stop it with `reconcile cancel`", err)
					}
					return err
				}
				if detach {
					if asJSON {
						return writeJSON(cmd, api.StartResponse{OperationID: id})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Started operation %s\n", id)
					return nil
				}
				return followOperation(cmd, c, id, asJSON)
			})
		},
	}
	cmd.Flags().Float64Var(&autoAccept, "auto-accept", 0, "Auto-accept threshold (0-1) for this run")
	cmd.Flags().Float64Var(&review, "review", 0, "Review threshold (0-1) for this run")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Return immediately after starting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final operation as JSON")
	return cmd
}

// followOperation streams progress until a terminal status. Interrupting the
// CLI stops following without cancelling the operation.
func followOperation(cmd *cobra.Command, c *client.Client, id string, asJSON bool) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	followCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	printer := newProgressPrinter(out)
	if asJSON {
		printer = nil
	}
	final, err := c.Follow(followCtx, id, func(op operation.Operation) {
		if printer != nil {
			printer.update(op)
		}
	})
	if printer != nil {
		printer.finish()
	}

	switch {
	case errors.Is(err, client.ErrStreamDisrupted):
		return fmt.Errorf("operation %s outcome unknown (last status %s): %w; check again with `reconcile status %s`", id, final.Status, err, id)
	case followCtx.Err() != nil && parent.Err() == nil:
		fmt.Fprintf(out, "Stopped following %s; it keeps running. Cancel with `reconcile cancel %s`\n", id, id)
		return nil
	case err != nil:
		return err
	}

	if asJSON {
		return writeJSON(cmd, final)
	}
	fmt.Fprintf(out, "Operation %s %s\n", id, operationOutcome(final))
	if final.Status == operation.StatusFailed {
		return fmt.Errorf("operation %s failed", id)
	}
	return nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [operation-id]",
		Short: "Show batch operations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if len(args) == 0 {
					ops, err := c.Operations(cmd.Context())
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, api.OperationsResponse{Operations: ops})
					}
					printOperations(cmd, ops)
					return nil
				}
				if follow {
					return followOperation(cmd, c, args[0], asJSON)
				}
				op, err := c.Operation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, op)
				}
				printOperation(cmd, op)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream progress until the operation finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printOperations(cmd *cobra.Command, ops []operation.Operation) {
	out := cmd.OutOrStdout()
	if len(ops) == 0 {
		fmt.Fprintln(out, "No operations")
		return
	}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		progress := fmt.Sprintf("%d/%d", op.Current, op.Total)
		if op.Indeterminate {
			progress = fmt.Sprintf("%d/?", op.Current)
		}
		rows = append(rows, []string{
			op.ID,
			op.Entity + "." + op.TargetField,
			string(op.Status),
			progress,
			op.StartedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Field", "Status", "Progress", "Started"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func printOperation(cmd *cobra.Command, op operation.Operation) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Operation:  %s\n", op.ID)
	fmt.Fprintf(out, "Field:      %s.%s\n", op.Entity, op.TargetField)
	fmt.Fprintf(out, "Status:     %s\n", op.Status)
	fmt.Fprintf(out, "Progress:   %s\n", progressLine(op))
	fmt.Fprintf(out, "Elapsed:    %.1fs\n", op.ElapsedSeconds)
	if op.Status.Terminal() {
		fmt.Fprintf(out, "Outcome:    %s\n", operationOutcome(op))
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation-id>",
		Short: "Cancel a running batch operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				op, err := c.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if op.Status == operation.StatusCancelled {
					fmt.Fprintf(out, "Operation %s cancelled after %d/%d rows\n", op.ID, op.Current, op.Total)
					return nil
				}
				fmt.Fprintf(out, "Operation %s already %s\n", op.ID, op.Status)
				return nil
			})
		},
	}
}
