// Package cli implements the tracevault CLI commands. Presentation only:
// every command opens a store handle, calls one store operation, and
// formats the structured result.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tracevault/tracevault/internal/config"
	"github.com/tracevault/tracevault/internal/store"
)

var (
	dirFlag    string
	configFlag string
	formatFlag string
	levelFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tracevault",
	Short: "Tamper-evident trace store for AI agents",
	Long:  "An append-only, causally-linked, hash-chained log of agent execution history, with full-text retrieval and long-term archival.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(levelFlag)
		if err != nil {
			level = zerolog.WarnLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "Vault directory (default: $TRACEVAULT_DIR or ~/.tracevault)")
	RootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML config file")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "warn", "Log level: trace, debug, info, warn, error")
}

func vaultDir() string {
	if dirFlag != "" {
		return dirFlag
	}
	if env := os.Getenv("TRACEVAULT_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tracevault")
}

func loadConfig() (config.Config, error) {
	if configFlag != "" {
		cfg, err := config.Load(configFlag)
		if err != nil {
			return cfg, err
		}
		if dirFlag != "" {
			cfg.Dir = dirFlag
		}
		if cfg.Dir == "" {
			cfg.Dir = vaultDir()
		}
		return cfg, nil
	}
	return config.Default(vaultDir()), nil
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
