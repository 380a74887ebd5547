package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/flowtriage/internal/api"
	"github.com/rsclarke/flowtriage/internal/db"
	"github.com/rsclarke/flowtriage/internal/server"
)

var errHistoryDisabled = errors.New("history store disabled (database.driver is empty)")

var historyFlags struct {
	clientConfig
	start string
	end   string
	json  bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored predictions grouped by run and label",
	Long: `List prediction counts grouped by run, connection type and label,
newest first, capped at 100 groups. --start and --end accept RFC3339
timestamps or unix seconds.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var statusFlags struct {
	clientConfig
	json bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show history store connectivity and recent predictions",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(historyCmd, statusCmd)

	addClientFlags(historyCmd, &historyFlags.clientConfig)
	historyCmd.Flags().StringVar(&historyFlags.start, "start", "", "only runs at or after this time")
	historyCmd.Flags().StringVar(&historyFlags.end, "end", "", "only runs at or before this time")
	historyCmd.Flags().BoolVar(&historyFlags.json, "json", false, "print as JSON")

	addClientFlags(statusCmd, &statusFlags.clientConfig)
	statusCmd.Flags().BoolVar(&statusFlags.json, "json", false, "print as JSON")

	for _, c := range []*cobra.Command{historyCmd, statusCmd} {
		c.Flags().String("db-driver", "", "history database driver (sqlite, pgx, mysql)")
		c.Flags().String("db-dsn", "", "history database DSN")
		c.PreRun = applyDatabaseFlags
	}
}

// applyDatabaseFlags overrides the loaded database config with
// --db-driver and --db-dsn.
func applyDatabaseFlags(cmd *cobra.Command, args []string) {
	if f := cmd.Flags().Lookup("db-driver"); f != nil && f.Changed {
		cfg.Database.Driver = f.Value.String()
	}
	if f := cmd.Flags().Lookup("db-dsn"); f != nil && f.Changed {
		cfg.Database.DSN = f.Value.String()
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	start, err := server.ParseTime(historyFlags.start)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := server.ParseTime(historyFlags.end)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	ctx, stop := exitOnSignal()
	defer stop()

	var resp *api.HistoryResponse
	if historyFlags.remote() {
		resp, err = historyFlags.newClient().History(ctx, start, end)
		if err != nil {
			return err
		}
	} else {
		store, err := openStore()
		if err != nil {
			return err
		}
		if store == nil {
			return errHistoryDisabled
		}
		defer store.Close()

		entries, err := store.History(ctx, db.Range{Start: start, End: end})
		if err != nil {
			return err
		}
		dto := server.HistoryDTO(entries)
		resp = &dto
	}

	if historyFlags.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	renderHistory(cmd.OutOrStdout(), resp)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := exitOnSignal()
	defer stop()

	var (
		resp   *api.StatusResponse
		runErr error
	)
	if statusFlags.remote() {
		resp, runErr = statusFlags.newClient().Status(ctx)
		if resp == nil {
			return runErr
		}
	} else {
		store, err := openStore()
		switch {
		case err != nil:
			resp = &api.StatusResponse{Status: "error", Error: err.Error()}
			runErr = err
		case store == nil:
			resp = &api.StatusResponse{Status: "disabled"}
		default:
			defer store.Close()
			st, err := store.Status(ctx)
			if err != nil {
				resp = &api.StatusResponse{Status: "error", Database: string(store.Dialect()), Error: err.Error()}
				runErr = err
			} else {
				dto := server.StatusDTO(st)
				resp = &dto
			}
		}
	}

	if statusFlags.json {
		if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		renderStatus(cmd.OutOrStdout(), resp)
	}
	return runErr
}
