// Package maintain provides the verify and repair commands, which check and
// rebuild the data kept by the tree and sortable behaviors.
package maintain

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stokaro/behave/behavior/sortable"
	"github.com/stokaro/behave/behavior/tree"
	"github.com/stokaro/behave/cmd/connection"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

type options struct {
	settings *connection.Settings
	entity   string
}

func newOptions(cmd *cobra.Command, settings *connection.Settings) *options {
	o := &options{settings: settings}
	cmd.PersistentFlags().StringVar(&o.entity, "entity", "", "Restrict the command to one entity. All configured entities when empty")
	return o
}

// NewVerifyCommand creates the verify command with its tree and sortable
// subcommands.
func NewVerifyCommand(settings *connection.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [tree|sortable]",
		Short: "Check stored trees and positions for corruption",
		Long: `Check the invariants maintained by the behaviors:

  tree      - nested set bounds, levels and parents of every tree
  sortable  - positions 0..n-1 without gaps or duplicates in every group

Exits with an error when anything is corrupt. Use repair to rebuild.`,
	}
	o := newOptions(cmd, settings)
	cmd.AddCommand(newTreeCommand(o, false), newSortableCommand(o, false))
	return cmd
}

// NewRepairCommand creates the repair command with its tree and sortable
// subcommands.
func NewRepairCommand(settings *connection.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair [tree|sortable]",
		Short: "Rebuild trees from parents and renumber positions",
		Long: `Rebuild the data maintained by the behaviors:

  tree      - recompute nested set bounds and levels from the parent field
  sortable  - renumber every group to 0..n-1 keeping the current order`,
	}
	o := newOptions(cmd, settings)
	cmd.AddCommand(newTreeCommand(o, true), newSortableCommand(o, true))
	return cmd
}

func newTreeCommand(o *options, repair bool) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Nested set trees",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), o, func(ctx context.Context, out io.Writer, d store.Driver, e *metadata.Entry) error {
				if e.Tree == nil {
					return nil
				}
				if e.Tree.Strategy != metadata.StrategyNested {
					fmt.Fprintf(out, "%s: skipped, %s trees keep no derived bounds\n", e.Name, e.Tree.Strategy)
					return nil
				}
				return nestedSet(ctx, out, d, e, repair)
			})
		},
	}
}

func newSortableCommand(o *options, repair bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sortable",
		Short: "Sortable positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), o, func(ctx context.Context, out io.Writer, d store.Driver, e *metadata.Entry) error {
				if e.Sortable == nil {
					return nil
				}
				return positions(ctx, out, d, e, repair)
			})
		},
	}
}

type entryFunc func(ctx context.Context, out io.Writer, d store.Driver, e *metadata.Entry) error

func run(ctx context.Context, out io.Writer, o *options, fn entryFunc) error {
	target, err := connection.Open(ctx, o.settings)
	if err != nil {
		return err
	}
	defer target.Close(ctx)

	entries, err := target.Entries(o.entity)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(ctx, out, target.Driver, e); err != nil {
			return err
		}
	}
	return nil
}

func nestedSet(ctx context.Context, out io.Writer, d store.Driver, e *metadata.Entry, repair bool) error {
	ns := tree.NewNestedSet(d, e)
	roots := []any{nil}
	if e.Tree.Root != "" {
		list, err := ns.Roots(ctx)
		if err != nil {
			return err
		}
		roots = roots[:0]
		for _, rec := range list {
			roots = append(roots, rec[e.IDField])
		}
	}

	for _, root := range roots {
		label := e.Name
		if root != nil {
			label = fmt.Sprintf("%s root %v", e.Name, root)
		}
		if repair {
			err := store.RunTransaction(ctx, d, func(txCtx context.Context) error {
				return ns.Recover(txCtx, root)
			})
			if err != nil {
				return fmt.Errorf("failed to repair %s: %w", label, err)
			}
			fmt.Fprintf(out, "%s: rebuilt\n", label)
			continue
		}
		if err := ns.Verify(ctx, root); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: ok\n", label)
	}
	return nil
}

func positions(ctx context.Context, out io.Writer, d store.Driver, e *metadata.Entry, repair bool) error {
	s := sortable.New(d, e)
	groups, err := s.Groups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		label := e.Name
		if len(g) > 0 {
			label = fmt.Sprintf("%s group %s", e.Name, g)
		}
		if repair {
			var changed int
			err := store.RunTransaction(ctx, d, func(txCtx context.Context) error {
				n, err := s.Compact(txCtx, g)
				changed = n
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to repair %s: %w", label, err)
			}
			fmt.Fprintf(out, "%s: %d renumbered\n", label, changed)
			continue
		}
		if err := s.Verify(ctx, g); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: ok\n", label)
	}
	return nil
}
