package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/flowtriage/internal/api"
	"github.com/rsclarke/flowtriage/internal/pipeline"
	"github.com/rsclarke/flowtriage/internal/server"
)

var analyzeFlags struct {
	clientConfig
	duration       int
	connectionType string
	iface          string
	json           bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Capture traffic for a window and classify its flows",
	Long: `Capture traffic for --duration seconds, extract flows and classify them.

Without --api-url the run happens in this process and needs tshark and
CICFlowMeter on PATH. With --api-url the run is delegated to a server.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	addClientFlags(analyzeCmd, &analyzeFlags.clientConfig)
	analyzeCmd.Flags().IntVarP(&analyzeFlags.duration, "duration", "d", 60, "capture window in seconds")
	analyzeCmd.Flags().StringVarP(&analyzeFlags.connectionType, "connection-type", "c", "wifi", "connection type, used to pick the interface")
	analyzeCmd.Flags().StringVarP(&analyzeFlags.iface, "interface", "i", "", "capture interface (overrides the connection type mapping)")
	analyzeCmd.Flags().BoolVar(&analyzeFlags.json, "json", false, "print the full response as JSON")
	analyzeCmd.Flags().Bool("keep-files", false, "keep capture and flow files after the run")
	bindFlag("pipeline.keep_files", analyzeCmd.Flags().Lookup("keep-files"))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := exitOnSignal()
	defer stop()

	var resp *api.AnalyzeResponse
	if analyzeFlags.remote() {
		var err error
		resp, err = analyzeFlags.newClient().Analyze(ctx, api.AnalyzeRequest{
			Duration:       analyzeFlags.duration,
			ConnectionType: analyzeFlags.connectionType,
			Interface:      analyzeFlags.iface,
		})
		if err != nil {
			return err
		}
	} else {
		rt, err := buildApp(true, true)
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := rt.orch.Run(ctx, pipeline.Request{
			Duration:       time.Duration(analyzeFlags.duration) * time.Second,
			ConnectionType: analyzeFlags.connectionType,
			Interface:      analyzeFlags.iface,
		})
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		dto := server.AnalyzeDTO(res)
		resp = &dto
	}

	if analyzeFlags.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	renderAnalyze(cmd.OutOrStdout(), resp)
	return nil
}
