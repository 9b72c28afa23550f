package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

func newCostsCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show estimated spend by provider and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			reports, err := tr.Costs(context.Background(), sinceTime)
			if err != nil {
				return err
			}

			fmt.Print(formatCostTable(reports, sinceTime))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatCostTable(reports []models.CostReport, since time.Time) string {
	if len(reports) == 0 {
		return fmt.Sprintf("No cost data since %s.\n", since.Format("2006-01-02"))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-25s %9s %12s %12s %12s %11s\n",
		"PROVIDER", "MODEL", "REQUESTS", "PROMPT", "COMPLETION", "TOKENS", "EST. COST")
	b.WriteString(strings.Repeat("-", 99) + "\n")

	var totalTokens int64
	var totalCost float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-12s %-25s %9d %12d %12d %12d $%10.4f\n",
			r.Provider, defaultStr(r.Model, "(none)"), r.RequestCount,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.EstimatedCost)
		totalTokens += r.TotalTokens
		totalCost += r.EstimatedCost
	}
	b.WriteString(strings.Repeat("-", 99) + "\n")
	fmt.Fprintf(&b, "%74s %12d $%10.4f\n", "TOTAL:", totalTokens, totalCost)
	return b.String()
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
