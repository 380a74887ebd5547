package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsclarke/flowtriage/internal/pipeline"
	"github.com/rsclarke/flowtriage/internal/server"
)

var classifyFlags struct {
	connectionType string
	persist        bool
	json           bool
}

var classifyCmd = &cobra.Command{
	Use:   "classify <flows.csv>",
	Short: "Classify an existing CICFlowMeter CSV",
	Long: `Normalize, impute and classify a flow file produced earlier by
CICFlowMeter, without capturing. Use --persist to store the predictions
in the configured history database.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringVarP(&classifyFlags.connectionType, "connection-type", "c", "offline", "connection type recorded with the results")
	classifyCmd.Flags().BoolVar(&classifyFlags.persist, "persist", false, "store predictions in the history database")
	classifyCmd.Flags().BoolVar(&classifyFlags.json, "json", false, "print the full response as JSON")
}

func runClassify(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, stop := exitOnSignal()
	defer stop()

	rt, err := buildApp(classifyFlags.persist, false)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.orch.Classify(ctx, f, pipeline.ClassifyRequest{
		ConnectionType: classifyFlags.connectionType,
		Persist:        classifyFlags.persist,
	})
	if err != nil {
		return fmt.Errorf("classify %s: %w", args[0], err)
	}

	resp := server.AnalyzeDTO(res)
	if classifyFlags.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	renderAnalyze(cmd.OutOrStdout(), &resp)
	return nil
}
