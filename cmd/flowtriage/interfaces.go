package main

import (
	"github.com/spf13/cobra"

	"github.com/rsclarke/flowtriage/internal/api"
	"github.com/rsclarke/flowtriage/internal/capture"
	"github.com/rsclarke/flowtriage/internal/server"
)

var interfacesFlags struct {
	clientConfig
	json bool
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List network interfaces available for capture",
	Args:  cobra.NoArgs,
	RunE:  runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)

	addClientFlags(interfacesCmd, &interfacesFlags.clientConfig)
	interfacesCmd.Flags().BoolVar(&interfacesFlags.json, "json", false, "print as JSON")
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	var resp *api.InterfacesResponse
	if interfacesFlags.remote() {
		ctx, stop := exitOnSignal()
		defer stop()

		var err error
		resp, err = interfacesFlags.newClient().Interfaces(ctx)
		if err != nil {
			return err
		}
	} else {
		ifaces, err := capture.NetlinkLister{}.Interfaces()
		if err != nil {
			return err
		}
		dto := server.InterfacesDTO(ifaces)
		resp = &dto
	}

	if interfacesFlags.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	renderInterfaces(cmd.OutOrStdout(), resp)
	return nil
}
