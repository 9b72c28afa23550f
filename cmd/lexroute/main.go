package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lexroute-ai/lexroute/pkg/config"
	"github.com/lexroute-ai/lexroute/pkg/logging"
)

var version = "dev"

const defaultConfigFile = "lexroute.yaml"

// Shared by every subcommand; populated in the root PersistentPreRunE so
// config and logging are set up exactly once per invocation.
var (
	configPath string
	cfg        *config.Config
	log        *logrus.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "lexroute",
		Short:         "Resilient multi-provider LLM orchestration for legal document workloads",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			c, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = c
			log = logging.New(cfg.Log)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newGenerateCmd(),
		newAnalyzeCmd(),
		newHealthCmd(),
		newStatsCmd(),
		newCostsCmd(),
		newCacheCmd(),
		newQuotaCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given, otherwise lexroute.yaml when present,
// otherwise built-in defaults with providers taken from the environment.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			c := config.Default()
			envProviders(c)
			return c, nil
		}
		path = defaultConfigFile
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	envProviders(c)
	return c, nil
}

// envProviders fills in the stock providers from their conventional
// environment variables when the config names none. Providers whose key is
// unset stay in the list; the registry disables them with a warning.
func envProviders(c *config.Config) {
	if len(c.Providers) > 0 {
		return
	}
	for _, p := range []struct{ name, key string }{
		{"openai", "OPENAI_API_KEY"},
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"gemini", "GEMINI_API_KEY"},
	} {
		c.Providers = append(c.Providers, config.ProviderConfig{
			Name:   p.name,
			APIKey: os.Getenv(p.key),
		})
	}
}
