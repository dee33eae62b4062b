package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"reconcile/internal/api"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatConfidence(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *value)
}

func formatTarget(id *reconcile.Identifier) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func formatNotes(notes *string) string {
	if notes == nil || strings.TrimSpace(*notes) == "" {
		return ""
	}
	return *notes
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func printMappingResult(out io.Writer, sourceValue string, result api.MappingResponse) {
	if !result.Changed {
		fmt.Fprintf(out, "%s: already up to date\n", sourceValue)
		return
	}
	fmt.Fprintf(out, "%s: updated\n", sourceValue)
	if len(result.Unmaterialized) > 0 {
		fmt.Fprintf(out, "Unmaterialized: %s\n", strings.Join(result.Unmaterialized, ", "))
	}
}

func printCandidates(out io.Writer, candidates []reconcile.Candidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No candidates")
		return
	}
	rows := make([][]string, 0, len(candidates))
	for i, candidate := range candidates {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			candidate.ID,
			candidate.Name,
			fmt.Sprintf("%.0f", candidate.Confidence()),
			dashIfEmpty(candidate.Description),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "ID", "Name", "Score", "Description"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func operationOutcome(op operation.Operation) string {
	switch op.Status {
	case operation.StatusFailed:
		return fmt.Sprintf("failed: %s", dashIfEmpty(op.Error))
	case operation.StatusCancelled:
		return fmt.Sprintf("cancelled after %d/%d rows", op.Current, op.Total)
	case operation.StatusCompleted:
		return fmt.Sprintf("completed: %d auto-accepted, %d need review, %d unmatched, %d will not match",
			op.Metadata["auto_accepted"], op.Metadata["needs_review"], op.Metadata["unmatched"], op.Metadata["will_not_match"])
	default:
		return string(op.Status)
	}
}
