package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

func newGenerateCmd() *cobra.Command {
	var (
		providerName string
		model        string
		op           string
		userID       string
		system       string
		maxTokens    int
		temperature  float64
		retries      int
		noCache      bool
		consensus    bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Send one generation request through the provider chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readInput(args, "prompt")
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
				Prompt:        prompt,
				System:        system,
				OperationType: op,
				Provider:      providerName,
				Model:         model,
				MaxTokens:     maxTokens,
				UserID:        userID,
				RetryCount:    retries,
				NoCache:       noCache,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			if consensus {
				req.Consensus = true
				res, err := g.Analyze(ctx, req, false)
				if err != nil {
					return err
				}
				return renderConsensus(res)
			}

			resp, err := g.Generate(ctx, req)
			if err != nil {
				return err
			}

			fmt.Println(strings.TrimSpace(resp.Text))
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, footer(resp))
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "pin the request to one provider")
	cmd.Flags().StringVar(&model, "model", "", "model override for the pinned provider")
	cmd.Flags().StringVar(&op, "op", "", "operation type (contract_analysis, legal_research, ...)")
	cmd.Flags().StringVar(&userID, "user", "", "user ID for cache scoping")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token cap (0 = provider default)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&retries, "retries", 0, "per-provider attempt override (0 = configured count)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&consensus, "consensus", false, "fan out to all providers and aggregate")
	return cmd
}

// readInput takes the single positional argument, or stdin when the argument
// is absent or "-".
func readInput(args []string, what string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		if strings.TrimSpace(args[0]) == "" {
			return "", fmt.Errorf("no %s given", what)
		}
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no " + what + " given (pass it as an argument or on stdin)")
	}
	return string(data), nil
}

func footer(resp *models.NormalizedResponse) string {
	src := resp.Provider
	if resp.Model != "" {
		src += "/" + resp.Model
	}
	line := fmt.Sprintf("%s  %d tokens  %dms  $%.4f", src, resp.Usage.TotalTokens, resp.LatencyMS, resp.CostEstimate)
	if resp.Cached {
		line += "  (cached)"
	}
	if resp.Attempts > 1 {
		line += fmt.Sprintf("  (%d attempts)", resp.Attempts)
	}
	return line
}
