package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/flowtriage/internal/api"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/server"
)

var artifactsFlags struct {
	clientConfig
	json bool
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect, verify or rebuild the scaler, reducer and classifier trio",
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the artifact trio in use",
	Long: `Show widths, files and digests of the artifact trio. Locally the trio
is loaded from artifacts.dir, synthesizing a replacement if the stored
one is unusable, exactly as the server would at startup.`,
	Args: cobra.NoArgs,
	RunE: runArtifactsShow,
}

var artifactsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the stored trio without replacing it",
	Long: `Load the stored trio, check manifest digests and the width chain and
run a smoke prediction. Exits non-zero if the trio would be replaced at
startup. Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runArtifactsVerify,
}

var artifactsSynthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Replace the stored trio with a freshly synthesized one",
	Long: `Synthesize a new trio from deterministic synthetic data and write it
to artifacts.dir. With --api-url the running server rebuilds and swaps
its trio instead; in-flight runs finish with the previous one.`,
	Args: cobra.NoArgs,
	RunE: runArtifactsSynthesize,
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsShowCmd, artifactsVerifyCmd, artifactsSynthesizeCmd)

	addClientFlags(artifactsShowCmd, &artifactsFlags.clientConfig)
	addClientFlags(artifactsSynthesizeCmd, &artifactsFlags.clientConfig)
	for _, c := range []*cobra.Command{artifactsShowCmd, artifactsVerifyCmd, artifactsSynthesizeCmd} {
		c.Flags().BoolVar(&artifactsFlags.json, "json", false, "print as JSON")
	}

	artifactsCmd.PersistentFlags().String("artifacts-dir", "", "directory holding the artifact trio")
	bindFlag("artifacts.dir", artifactsCmd.PersistentFlags().Lookup("artifacts-dir"))
}

func localLoader() (*model.Loader, error) {
	labels, err := labelTable()
	if err != nil {
		return nil, err
	}
	return newLoader(labels, nil), nil
}

func printArtifacts(cmd *cobra.Command, resp *api.ArtifactsResponse) error {
	if artifactsFlags.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	renderArtifacts(cmd.OutOrStdout(), resp)
	return nil
}

func runArtifactsShow(cmd *cobra.Command, args []string) error {
	ctx, stop := exitOnSignal()
	defer stop()

	if artifactsFlags.remote() {
		resp, err := artifactsFlags.newClient().Artifacts(ctx)
		if err != nil {
			return err
		}
		return printArtifacts(cmd, resp)
	}

	loader, err := localLoader()
	if err != nil {
		return err
	}
	a, err := model.NewProvider(loader).Get(ctx)
	if err != nil {
		return err
	}
	resp := server.ArtifactsDTO(a, loader.Options())
	return printArtifacts(cmd, &resp)
}

func runArtifactsVerify(cmd *cobra.Command, args []string) error {
	loader, err := localLoader()
	if err != nil {
		return err
	}
	a, err := loader.Load()
	if err != nil {
		return fmt.Errorf("stored artifacts unusable: %w", err)
	}
	resp := server.ArtifactsDTO(a, loader.Options())
	if err := printArtifacts(cmd, &resp); err != nil {
		return err
	}
	if !artifactsFlags.json {
		fmt.Fprintln(cmd.OutOrStdout(), "\nOK")
	}
	return nil
}

func runArtifactsSynthesize(cmd *cobra.Command, args []string) error {
	ctx, stop := exitOnSignal()
	defer stop()

	if artifactsFlags.remote() {
		resp, err := artifactsFlags.newClient().RebuildArtifacts(ctx)
		if err != nil {
			return err
		}
		return printArtifacts(cmd, resp)
	}

	loader, err := localLoader()
	if err != nil {
		return err
	}
	a, err := loader.Rebuild()
	if err != nil {
		return err
	}
	resp := server.ArtifactsDTO(a, loader.Options())
	return printArtifacts(cmd, &resp)
}
