package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reconcile/internal/api"
	"reconcile/internal/client"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	depsCmd := &cobra.Command{
		Use:   "deps",
		Short: "Inspect and edit the materialization graph",
	}
	depsCmd.AddCommand(newDepsListCommand(ctx))
	depsCmd.AddCommand(newDepsDependentsCommand(ctx))
	depsCmd.AddCommand(newDepsAddCommand(ctx))
	depsCmd.AddCommand(newDepsMaterializeCommand(ctx))
	depsCmd.AddCommand(newDepsUnmaterializeCommand(ctx))
	return depsCmd
}

func newDepsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities, their materialization state, and dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				entities, err := c.Entities(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.EntitiesResponse{Entities: entities})
				}
				out := cmd.OutOrStdout()
				if len(entities) == 0 {
					fmt.Fprintln(out, "No entities")
					return nil
				}
				rows := make([][]string, 0, len(entities))
				for _, entity := range entities {
					since := "-"
					if entity.MaterializedAt != nil {
						since = entity.MaterializedAt.Local().Format(time.DateTime)
					}
					rows = append(rows, []string{
						entity.Name,
						yesNo(entity.Materialized),
						since,
						dashIfEmpty(strings.Join(entity.DependsOn, ", ")),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Entity", "Materialized", "Since", "Depends on"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newDepsDependentsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dependents <entity>",
		Short: "List every entity derived from an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				dependents, err := c.Dependents(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(dependents) == 0 {
					fmt.Fprintf(out, "Nothing depends on %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(dependents))
				for _, dep := range dependents {
					rows = append(rows, []string{dep.Name, yesNo(dep.Materialized)})
				}
				fmt.Fprintln(out, renderTable([]string{"Dependent", "Materialized"}, rows, nil))
				return nil
			})
		},
	}
}

func newDepsAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <entity> <depends-on>",
		Short: "Record that an entity is derived from another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if err := c.AddDependency(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now depends on %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newDepsMaterializeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize <entity>",
		Short: "Mark an entity as materialized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if err := c.Materialize(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s materialized\n", args[0])
				return nil
			})
		},
	}
}

func newDepsUnmaterializeCommand(ctx *commandContext) *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "unmaterialize <entity>",
		Short: "Unmaterialize an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				var changed []string
				err := withCascadeConfirm(cmd, cascade, func(cascade bool) (err error) {
					changed, err = c.Unmaterialize(cmd.Context(), args[0], cascade)
					return err
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(changed) == 0 {
					fmt.Fprintf(out, "%s was not materialized\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "Unmaterialized: %s\n", strings.Join(changed, ", "))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Also unmaterialize materialized dependents")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
