package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fgeck/gowake-homelab/internal/config"
	"github.com/fgeck/gowake-homelab/internal/services/history"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past wake runs",
	Long: `Show past wake runs recorded in the history database.

The database path is taken from the history section of the config file.
Pass --run to list every state transition of a single run.`,
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultLimit, "number of runs to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the transitions of this run ID")
}

func showHistory(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if cfg.History == nil {
		return fmt.Errorf("history is not configured in %s", configFile)
	}

	store, err := history.Open(cfg.History.Path, log.Logger)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.History.Path).Msg("failed to open history")
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if historyRun != "" {
		events, err := store.Events(ctx, historyRun)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("no events recorded for run %s", historyRun)
		}
		renderEvents(os.Stdout, events)
		return nil
	}

	runs, err := store.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	renderRuns(os.Stdout, runs)
	return nil
}
