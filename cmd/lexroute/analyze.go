package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		op           string
		userID       string
		kind         string
		minProviders int
		consensus    bool
		degraded     bool
		noCache      bool
		jsonOut      bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Run a consensus analysis over a document",
		Long: `Fans the document out to every healthy provider, cross-checks the answers
and prints the aggregated result. With --consensus=false a single provider
answers instead. The document is sent verbatim; include any analysis
instructions in the document itself.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args)
			if err != nil {
				return err
			}

			g, done, err := buildGateway()
			if err != nil {
				return err
			}
			defer done()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := &models.GenerationRequest{
				Prompt:        doc,
				OperationType: op,
				UserID:        userID,
				MinProviders:  minProviders,
				Consensus:     consensus,
				NoCache:       noCache,
			}
			if kind != "" {
				req.Params = map[string]string{"analysis_kind": kind}
			}
			res, err := g.Analyze(ctx, req, degraded)
			if err != nil {
				return err
			}

			if jsonOut {
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			return renderConsensus(res)
		},
	}

	cmd.Flags().StringVar(&op, "op", models.OpContractAnalysis, "operation type")
	cmd.Flags().StringVar(&userID, "user", "", "user ID for cache scoping")
	cmd.Flags().StringVar(&kind, "kind", "", "analysis kind forwarded to the cache key (risk, compliance, ...)")
	cmd.Flags().IntVar(&minProviders, "min-providers", 0, "raise the consensus quorum for this request")
	cmd.Flags().BoolVar(&consensus, "consensus", true, "cross-check the answer across providers")
	cmd.Flags().BoolVar(&degraded, "allow-degraded", false, "fall back to a single provider when the quorum cannot be met")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the content cache")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw consensus result as JSON")
	return cmd
}

func readDocument(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("%s is empty", args[0])
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no document given (pass a file path or pipe it on stdin)")
	}
	return string(data), nil
}

func renderConsensus(res *models.ConsensusResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if s := res.Aggregated.Structured; s != nil {
		fmt.Fprintf(w, "Risk score:\t%.1f/10\n", s.RiskScore)
	}
	fmt.Fprintf(w, "Confidence:\t%.1f%%\n", res.Confidence)
	fmt.Fprintf(w, "Agreement:\t%.0f%%\n", res.ProviderAgreement*100)
	fmt.Fprintf(w, "Providers:\t%s (%d of %d)\n",
		strings.Join(res.ProvidersUsed, ", "), len(res.ProvidersUsed), res.TotalProviders)
	fmt.Fprintf(w, "Tokens:\t%d\n", res.TotalTokens)
	if res.CacheHitType != "" {
		fmt.Fprintf(w, "Cache:\t%s hit\n", res.CacheHitType)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if s := res.Aggregated.Structured; s != nil {
		if s.Summary != "" {
			fmt.Println()
			fmt.Println(strings.TrimSpace(s.Summary))
		}
		printList("Key issues:", s.KeyIssues)
		printList("Recommendations:", s.Recommendations)
	} else if res.Aggregated.RawText != "" {
		fmt.Println()
		fmt.Println(strings.TrimSpace(res.Aggregated.RawText))
	}

	if len(res.Responses) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tTOKENS\tLATENCY")
	for _, r := range res.Responses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%dms\n", r.Provider, r.Model, r.Usage.TotalTokens, r.LatencyMS)
	}
	return w.Flush()
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(title)
	for i, item := range items {
		fmt.Printf("%2d. %s\n", i+1, item)
	}
}
