package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/gowake-homelab/internal/config"
	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/fgeck/gowake-homelab/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Wake all configured devices",
	Long: `Wake all configured devices in dependency order:
1. Validate the device graph (nothing is sent if it is invalid)
2. Send a magic packet to every device without dependencies
3. Run each device's health checks until they pass or time out
4. Wake a device once all of its dependencies are healthy
5. Skip every device that depends on a failed one
6. Record the run and send a Telegram notification (if configured)

Exits non-zero unless every device became healthy.`,
	SilenceUsage: true,
	RunE:         runWake,
}

func runWake(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	// Validate configuration
	g, err := config.Validate(cfg)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("config", configFile).
		Int("devices", g.Len()).
		Bool("telegram", cfg.Telegram != nil).
		Bool("history", cfg.History != nil).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, cancelling wake run")
			cancel()
		case <-ctx.Done():
		}
	}()

	runnerSvc := runner.New(log.Logger)
	if !jsonOutput {
		runnerSvc.Observe(printEvents(os.Stdout))
	}
	result, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("wake run failed")
		return err
	}

	if !jsonOutput {
		renderResult(os.Stdout, result, g.Names())
	}

	if !result.Success {
		err := fmt.Errorf("wake run incomplete: %d failed, %d blocked",
			result.Count(models.StatusFailed), result.Count(models.StatusBlocked))
		log.Error().Err(err).Str("run_id", result.RunID).Msg("not all devices are healthy")
		return err
	}

	log.Info().
		Str("run_id", result.RunID).
		Dur("duration", result.Duration).
		Msg("all devices are healthy")
	return nil
}
