package main

import (
	"fmt"
	"io"
	"strings"

	"reconcile/internal/logging"
	"reconcile/internal/operation"
)

// progressPrinter renders operation snapshots. Terminals get a single
// rewritten line; other writers get sampled lines.
type progressPrinter struct {
	out     io.Writer
	tty     bool
	sampler *logging.ProgressSampler
	wrote   bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:     out,
		tty:     isTerminal(out),
		sampler: logging.NewProgressSampler(10),
	}
}

func (p *progressPrinter) update(op operation.Operation) {
	line := progressLine(op)
	if p.tty {
		fmt.Fprintf(p.out, "\r\033[K%s", line)
		p.wrote = true
		return
	}
	percent := op.ProgressPercent
	if op.Indeterminate {
		percent = -1
	}
	if op.Status.Terminal() || p.sampler.ShouldLog(percent, string(op.Status)) {
		fmt.Fprintln(p.out, line)
	}
}

func (p *progressPrinter) finish() {
	if p.tty && p.wrote {
		fmt.Fprintln(p.out)
		p.wrote = false
	}
}

func progressLine(op operation.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s %s", op.Entity, op.TargetField, op.Status)
	if op.Indeterminate {
		fmt.Fprintf(&b, " %d rows", op.Current)
	} else {
		fmt.Fprintf(&b, " %d/%d (%.0f%%)", op.Current, op.Total, op.ProgressPercent)
	}
	if op.EstimatedRemainingSeconds != nil {
		fmt.Fprintf(&b, " eta %.0fs", *op.EstimatedRemainingSeconds)
	}
	if msg := strings.TrimSpace(op.Message); msg != "" && !op.Status.Terminal() {
		fmt.Fprintf(&b, " %s", msg)
	}
	return b.String()
}
