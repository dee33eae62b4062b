package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"reconcile/internal/client"
	"reconcile/internal/reconcile"
	"reconcile/internal/review"
)

type bulkKind struct {
	use           string
	short         string
	verb          string
	defaultBucket reconcile.Status
	apply         func(c *client.Client, ctx context.Context, entity, field string, values []string, cascade bool) (review.BulkResult, error)
}

var (
	bulkAccept = bulkKind{
		use:           "bulk-accept",
		short:         "Accept the top candidate of many rows",
		verb:          "Accepted",
		defaultBucket: reconcile.StatusNeedsReview,
		apply: func(c *client.Client, ctx context.Context, entity, field string, values []string, cascade bool) (review.BulkResult, error) {
			return c.BulkAccept(ctx, entity, field, values, cascade)
		},
	}
	bulkReject = bulkKind{
		use:           "bulk-reject",
		short:         "Clear the mapping and candidates of many rows",
		verb:          "Rejected",
		defaultBucket: reconcile.StatusNeedsReview,
		apply: func(c *client.Client, ctx context.Context, entity, field string, values []string, cascade bool) (review.BulkResult, error) {
			return c.BulkReject(ctx, entity, field, values, cascade)
		},
	}
)

func newBulkCommand(ctx *commandContext, kind bulkKind) *cobra.Command {
	var buckets []string
	var cascade bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   kind.use + " <entity> <field> [source-value...]",
		Short: kind.short,
		Long: kind.short + ".\n\nWithout source values every row in the selected buckets is used " +
			"(default " + string(kind.defaultBucket) + ").",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, field := args[0], args[1]
			return ctx.withClient(func(c *client.Client) error {
				values := args[2:]
				if len(values) == 0 {
					selected, err := selectBucketRows(cmd, c, entity, field, buckets, kind.defaultBucket)
					if err != nil {
						return err
					}
					if len(selected) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No rows selected")
						return nil
					}
					values = selected
				}

				result, err := kind.apply(c, cmd.Context(), entity, field, values, cascade)
				if err != nil {
					return err
				}
				if result.RequiresCascade && !cascade {
					if err := confirmCascade(cmd, result.AffectedEntities); err != nil {
						printBulkResult(cmd.OutOrStdout(), kind.verb, result)
						return err
					}
					if result, err = kind.apply(c, cmd.Context(), entity, field, values, true); err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, result)
				}
				printBulkResult(cmd.OutOrStdout(), kind.verb, result)
				if len(result.Failed) > 0 {
					return fmt.Errorf("%d of %d rows failed", len(result.Failed), len(values))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&buckets, "bucket", "b", nil, "Select rows from these buckets when no source values are given")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Unmaterialize dependent entities without asking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func selectBucketRows(cmd *cobra.Command, c *client.Client, entity, field string, buckets []string, fallback reconcile.Status) ([]string, error) {
	query := client.RowsQuery{}
	for _, raw := range buckets {
		status, err := reconcile.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		query.Buckets = append(query.Buckets, status)
	}
	if len(query.Buckets) == 0 {
		query.Buckets = []reconcile.Status{fallback}
	}
	resp, err := c.Rows(cmd.Context(), entity, field, query)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		values = append(values, row.SourceValue)
	}
	return values, nil
}

func printBulkResult(out io.Writer, verb string, result review.BulkResult) {
	fmt.Fprintf(out, "%s %d, skipped %d, failed %d\n", verb, len(result.Actioned), len(result.Skipped), len(result.Failed))
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped: %s\n", strings.Join(result.Skipped, ", "))
	}
	for _, failure := range result.Failed {
		fmt.Fprintf(out, "Failed %s: %s\n", failure.SourceValue, failure.Error)
	}
}
