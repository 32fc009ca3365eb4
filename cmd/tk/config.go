package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/codewiresh/trakit/internal/config"
)

var configKeys = []string{
	"environment", "address", "log_level",
	"auth.username", "auth.password", "auth.api_key", "auth.api_secret",
	"metrics.listen", "journal.enabled", "journal.retention",
}

// ---------------------------------------------------------------------------
// configCmd
// ---------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show config.toml with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.ReadFile(dataDir())
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), c)
		},
	}
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one value in config.toml",
		Long:  "Set one value in config.toml. An empty value clears it.\n\nKeys: " + strings.Join(configKeys, ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dataDir()
			// Environment overrides stay out of the saved file.
			c, err := config.ReadFile(dir)
			if err != nil {
				return err
			}
			if err := setConfigValue(c, args[0], args[1]); err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			if err := c.Save(dir); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], filepath.Join(dir, "config.toml"))
			return nil
		},
	}
}

func setConfigValue(c *config.Config, key, value string) error {
	optional := func() *string {
		if value == "" {
			return nil
		}
		return &value
	}

	switch key {
	case "environment":
		c.Environment = value
	case "address":
		c.Address = optional()
	case "log_level":
		c.LogLevel = value
	case "auth.username":
		c.Auth.Username = value
	case "auth.password":
		c.Auth.Password = value
	case "auth.api_key":
		c.Auth.APIKey = value
	case "auth.api_secret":
		c.Auth.APISecret = value
	case "metrics.listen":
		c.Metrics.Listen = optional()
	case "journal.enabled":
		if value == "" {
			c.Journal.Enabled = false
			return nil
		}
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("journal.enabled: %w", err)
		}
		c.Journal.Enabled = on
	case "journal.retention":
		c.Journal.Retention = value
	default:
		return fmt.Errorf("unknown key %q (want one of: %s)", key, strings.Join(configKeys, ", "))
	}
	return nil
}

func showConfig(w io.Writer, c *config.Config) error {
	masked := *c
	if masked.Auth.Password != "" {
		masked.Auth.Password = "********"
	}
	if masked.Auth.APISecret != "" {
		masked.Auth.APISecret = "********"
	}
	return toml.NewEncoder(w).Encode(masked)
}
