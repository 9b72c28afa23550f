package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexroute-ai/lexroute/pkg/quota"
	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show token quota consumption per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Quota.Enabled || len(cfg.Quota.Policies) == 0 {
				fmt.Println("Quota enforcement is disabled.")
				return nil
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			statuses, err := quota.New(cfg.Quota.Policies, tr).Status(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tPERIOD\tLIMIT\tUSED\tREMAINING\tUSE%")
			for _, s := range statuses {
				pct := 0.0
				if s.Policy.MaxTokens > 0 {
					pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
				}
				name := s.Policy.Provider
				if name == "*" {
					name = "(all)"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f%%\n",
					name, s.Policy.Period,
					s.Policy.MaxTokens, s.Used, s.Remaining, pct)
			}
			return w.Flush()
		},
	}
}
