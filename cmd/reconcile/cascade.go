package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"reconcile/internal/client"
)

// canPrompt reports whether the command may ask the operator a question.
var canPrompt = func(cmd *cobra.Command) bool {
	return isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout())
}

var errDeclined = errors.New("nothing was changed")

// withCascadeConfirm runs write with the requested cascade flag. A cascade
// conflict is confirmed interactively and retried with cascade set; without a
// terminal the conflict is returned with a hint.
func withCascadeConfirm(cmd *cobra.Command, cascade bool, write func(cascade bool) error) error {
	err := write(cascade)
	conflict, ok := client.AsCascadeConflict(err)
	if !ok || cascade {
		return err
	}
	if err := confirmCascade(cmd, conflict.AffectedEntities); err != nil {
		return err
	}
	return write(true)
}

func confirmCascade(cmd *cobra.Command, affected []string) error {
	list := strings.Join(affected, ", ")
	if !canPrompt(cmd) {
		return fmt.Errorf("change would orphan materialized entities %s; re-run with --cascade to unmaterialize them", list)
	}
	question := fmt.Sprintf("This change unmaterializes %s. Continue? [y/N] ", list)
	ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), question)
	if err != nil {
		return err
	}
	if !ok {
		return errDeclined
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
