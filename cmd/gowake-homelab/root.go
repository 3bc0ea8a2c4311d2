package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	envFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "gowake-homelab",
	Short: "A dependency-aware Wake-on-LAN orchestrator for homelab environments",
	Long: `gowake-homelab wakes a set of homelab machines in dependency order:
  - Wake-on-LAN magic packets (raw Ethernet, VLAN tagged or UDP broadcast)
  - HTTP, TCP port and shell health checks, locally or over SSH
  - A device is only woken once everything it depends on is healthy
  - Telegram notifications and a local run history

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return loadEnv()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the config (default .env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadEnv makes secrets from a dotenv file available to ${VAR} expansion in
// the config. Variables already set in the environment win.
func loadEnv() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
		log.Debug().Str("dotenv", envFile).Msg("loaded env file")
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Msg("failed to load .env")
		}
		return nil
	}
	log.Debug().Str("dotenv", ".env").Msg("loaded env file")
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
