package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every configured provider and report status",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, done, err := buildGateway()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			report := g.HealthCheck(ctx)
			healthy := 0
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tHEALTHY\tCREDENTIAL\tBREAKER\tREQUESTS\tERRORS\tLATENCY\tLAST ERROR")
			for _, s := range report.Providers {
				if s.Healthy {
					healthy++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%dms\t%s\n",
					s.Name, yesNo(s.Healthy), yesNo(s.CredentialSet),
					defaultStr(s.BreakerState, "-"), s.RequestCount, s.ErrorCount,
					s.LatencyMS, defaultStr(truncate(s.LastError, 60), "-"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nOverall: %s\n", report.Overall)
			if healthy == 0 {
				return errors.New("all providers unhealthy")
			}
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
