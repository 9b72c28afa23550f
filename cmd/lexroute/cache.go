package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate the shared content cache",
		Long: `The in-process response cache lives and dies with each run; this command
manages the shared Redis content cache that holds consensus analyses.`,
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cached entries and the rolling 24h write tallies",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := contentCache()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			stats, err := svc.Stats(context.Background())
			if err != nil {
				return err
			}
			if stats.Entries == 0 && len(stats.Usage) == 0 {
				fmt.Println("Content cache is empty.")
				return nil
			}

			seen := make(map[string]bool)
			var ops []string
			for op := range stats.KeysByOperation {
				seen[op] = true
				ops = append(ops, op)
			}
			for op := range stats.Usage {
				if !seen[op] {
					ops = append(ops, op)
				}
			}
			sort.Strings(ops)

			profiles := svc.Profiles()
			var cached, size int64
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tKEYS\tCACHED 24H\tSIZE 24H\tTTL\tSIMILARITY")
			for _, op := range ops {
				u := stats.Usage[op]
				ttl, sim := "-", "-"
				if p, ok := profiles[op]; ok {
					ttl = p.TTL.String()
					sim = fmt.Sprintf("%.2f", p.SimilarityThreshold)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
					op, stats.KeysByOperation[op], u.TotalCached, u.TotalSize, ttl, sim)
				cached += u.TotalCached
				size += u.TotalSize
			}
			fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t\t\n", stats.Entries, cached, size)
			return w.Flush()
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var (
		op     string
		userID string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Invalidate cached analyses by operation type or user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if op == "" && userID == "" {
				return errors.New("specify --op and/or --user")
			}
			svc, err := contentCache()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			ctx := context.Background()
			if op != "" {
				n, err := svc.InvalidateOperationType(ctx, op)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d cached entries for operation %s.\n", n, op)
			}
			if userID != "" {
				n, err := svc.InvalidateUser(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d cached entries for user %s.\n", n, userID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", "", "operation type to invalidate")
	cmd.Flags().StringVar(&userID, "user", "", "user ID to invalidate")
	return cmd
}
