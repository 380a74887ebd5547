package main

import (
	"os"

	"github.com/rsclarke/flowtriage/internal/client"
	"github.com/spf13/cobra"
)

// clientConfig selects remote mode: with an API URL the command talks to
// a running server instead of opening local resources.
type clientConfig struct {
	apiKey string
	apiURL string
}

func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.Flags().StringVar(&cfg.apiKey, "api-key", os.Getenv("FLOWTRIAGE_API_KEY"), "API key for authentication")
	cmd.Flags().StringVar(&cfg.apiURL, "api-url", os.Getenv("FLOWTRIAGE_API_URL"), "API server URL (remote mode)")
}

func (cfg *clientConfig) remote() bool { return cfg.apiURL != "" }

func (cfg *clientConfig) newClient() *client.Client {
	return client.NewClient(cfg.apiURL, cfg.apiKey)
}
