package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		providerFilter string
		groupBy        string
		sinceStr       string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregated token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			if groupBy != "" {
				since := time.Time{}
				if sinceStr != "" {
					since, err = time.Parse("2006-01-02", sinceStr)
					if err != nil {
						return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
					}
				}
				summaries, err := tr.Aggregate(context.Background(), since, groupBy)
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Println("No usage data found.")
					return nil
				}

				header := "PROVIDER"
				switch groupBy {
				case "model":
					header = "MODEL"
				case "operation":
					header = "OPERATION"
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "%s\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tCOST\tCACHE HITS\tFAILURES\n", header)
				for _, s := range summaries {
					key := s.Provider
					if s.Model != "" {
						key = s.Model
					}
					if s.OperationType != "" {
						key = s.OperationType
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t$%.4f\t%d\t%d\n",
						defaultStr(key, "-"), s.RequestCount, s.TotalPrompt, s.TotalCompletion,
						s.TotalTokens, s.EstimatedCost, s.CacheHits, s.Failures)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(context.Background(), providerFilter)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tOPERATION\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tCOST\tCACHE HITS\tFAILURES")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\t%d\t%d\n",
					s.Provider, defaultStr(s.Model, "-"), defaultStr(s.OperationType, "-"),
					s.RequestCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens,
					s.EstimatedCost, s.CacheHits, s.Failures)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&providerFilter, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&groupBy, "by", "", "roll usage up along one dimension (provider, model, operation)")
	cmd.Flags().StringVar(&sinceStr, "since", "", "only count usage on or after this date (YYYY-MM-DD), with --by")
	return cmd
}
