package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/internal/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "authbroker",
		Short:         "Session and credential broker",
		Long:          `authbroker issues and rotates access and refresh tokens, tracks sessions in Redis,
enforces login lockout and rate limits, and handles TOTP two-factor enrollment.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "TOML config file (default $"+authbroker.ConfigPathEnv+")")

	cmd.AddCommand(newServeCmd(opts), newMigrateCmd(opts))
	return cmd
}

// load reads the configuration. Only serve needs the token settings, so
// migrations skip validation.
func (o *rootOptions) load(validate bool) (authbroker.Config, *logger.Logger, error) {
	read := authbroker.ReadConfig
	if validate {
		read = authbroker.LoadConfig
	}
	cfg, err := read(o.configPath)
	if err != nil {
		return authbroker.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(os.Stdout, "authbroker", cfg.Log.Level), nil
}

func versionString() string {
	v, c := buildVersion, buildCommit
	if v == "" {
		v = "dev"
	}
	if c == "" {
		c = "N/A"
	}
	return v + " (" + c + ")"
}
