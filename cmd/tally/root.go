package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mercator-hq/tally/pkg/cli"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Tally - retention and capacity management for the analytics store",
	Long: `Tally keeps a size-constrained analytics store under its storage budget.

It records menu, search, activity, audit and order analytics, removes expired
records on a schedule, and falls back to an emergency cleanup with halved
retention windows when usage stays high.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path (defaults are used when missing)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format (text, json, csv)")
}

// loadEnv loads envFile into the environment. Variables that are already
// set win over the file, and a missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return cli.NewConfigError("env-file", err.Error())
	}
	return nil
}

// loadConfig resolves the configuration of one command: dotenv file, config
// file (or defaults), environment overrides, flag overrides. It also
// installs the process logger on stderr.
func loadConfig() (*config.Config, error) {
	if err := loadEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}

	logCfg := logging.FromConfig(&cfg.Telemetry.Logging)
	logCfg.Writer = os.Stderr
	if _, err := logging.Setup(logCfg); err != nil {
		return nil, cli.NewConfigError("log-level", err.Error())
	}

	config.SetConfig(cfg)
	return cfg, nil
}

func formatter() (cli.Formatter, error) {
	format, err := cli.ParseOutputFormat(outputFmt)
	if err != nil {
		return nil, err
	}
	return cli.NewFormatter(format), nil
}

func configFileExists() bool {
	if cfgFile == "" {
		return false
	}
	_, err := os.Stat(cfgFile)
	return err == nil
}
