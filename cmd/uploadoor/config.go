package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the merged configuration (files, environment, defaults) with secrets masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		out, err := cfg.Dump()
		if err != nil {
			return fmt.Errorf("dumping config: %w", err)
		}

		_, err = os.Stdout.Write(out)

		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads the --config files and applies the configured log level
// unless --log-level was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if !cmd.Flags().Changed("log-level") && cfg.Global.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}
