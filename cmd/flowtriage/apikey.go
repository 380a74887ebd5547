package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/flowtriage/internal/auth"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a new API key",
	Long: `Create a new API key. The key is shown once; only the config entry,
which holds a digest of the secret, needs to be added to server.api_keys
(or FLOWTRIAGE_SERVER_API_KEYS, comma separated).`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyGenerate,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyGenerateCmd)
}

func runAPIKeyGenerate(cmd *cobra.Command, args []string) error {
	displayKey, entry, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generate API key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=============================================================")
	fmt.Fprintln(out, "API KEY CREATED (save this, it will not be shown again):")
	fmt.Fprintln(out, displayKey)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Add this entry to server.api_keys:")
	fmt.Fprintln(out, entry)
	fmt.Fprintln(out, "=============================================================")
	return nil
}
