package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

// configJSON is the --json view of the configuration, secrets redacted.
type configJSON struct {
	Path    string               `json:"path"`
	Email   string               `json:"email"`
	HasPass bool                 `json:"password_set"`
	Garmin  garminJSON           `json:"garmin"`
	Upload  config.UploadConfig  `json:"upload"`
	Logging config.LoggingConfig `json:"logging"`
	Network config.NetworkConfig `json:"network"`
}

type garminJSON struct {
	Domain      string `json:"domain"`
	ConsumerKey string `json:"consumer_key"`
	HasSecret   bool   `json:"consumer_secret_set"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if cc.Flags.JSON {
		return printJSON(os.Stdout, configJSON{
			Path:    cc.CfgPath,
			Email:   cfg.Account.Email,
			HasPass: cfg.Account.Password != "",
			Garmin: garminJSON{
				Domain:      cfg.Garmin.Domain,
				ConsumerKey: cfg.Garmin.ConsumerKey,
				HasSecret:   cfg.Garmin.ConsumerSecret != "",
			},
			Upload:  cfg.Upload,
			Logging: cfg.Logging,
			Network: cfg.Network,
		})
	}

	return config.RenderEffective(cfg, cc.CfgPath, os.Stdout)
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with default values",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

// runConfigInit runs without a CLIContext: the file it replaces may not
// exist yet or may fail validation.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := config.ResolveConfigPath(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})

	if err := config.WriteTemplate(path, force); err != nil {
		return err
	}

	statusf(flagQuiet, "Wrote %s\n", path)

	return nil
}
