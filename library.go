package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"deck/internal/library"
	"deck/internal/scanner"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index every enabled library root once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		roots := library.NewWatchedRootRepository(rt.db)
		if err := addConfiguredRoots(cmd.Context(), roots, rt.cfg.Library.Roots, rt.logger); err != nil {
			return err
		}

		status, err := scanner.NewService(rt.db, roots, rt.logger).Scan(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "files seen: %d, indexed: %d, skipped: %d, removed: %d\n",
			status.LastFilesSeen, status.LastIndexed, status.LastSkipped, status.LastRemoved)
		return nil
	},
}

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "Manage watched library roots",
}

var rootsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched library roots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoots(func(ctx context.Context, roots *library.WatchedRootRepository) error {
			listed, err := roots.List(ctx)
			if err != nil {
				return err
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "ID\tENABLED\tPATH")
			for _, root := range listed {
				fmt.Fprintf(out, "%d\t%t\t%s\n", root.ID, root.Enabled, root.Path)
			}
			return out.Flush()
		})
	},
}

var rootsAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Watch a directory for music",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoots(func(ctx context.Context, roots *library.WatchedRootRepository) error {
			root, err := roots.Add(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added root %d: %s\n", root.ID, root.Path)
			return nil
		})
	},
}

var rootsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop watching a library root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid root id %q", args[0])
		}
		return withRoots(func(ctx context.Context, roots *library.WatchedRootRepository) error {
			return roots.Delete(ctx, id)
		})
	},
}

func init() {
	rootsCmd.AddCommand(rootsListCmd, rootsAddCmd, rootsRemoveCmd)
	rootCmd.AddCommand(scanCmd, rootsCmd)
}

func withRoots(fn func(ctx context.Context, roots *library.WatchedRootRepository) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(context.Background(), library.NewWatchedRootRepository(rt.db))
}
