package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/echobench/pkg/cli"
	"github.com/newtron-network/echobench/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.echobench/settings.json.

Examples:
  echobench settings show
  echobench settings set config /etc/echobench/nightly.yaml
  echobench settings set redis 10.0.0.5:6379
  echobench settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE")
		printSetting := func(name, value string) {
			if value == "" {
				value = "(not set)"
			}
			t.Row(name, value)
		}
		printSetting("default_config", s.DefaultConfig)
		printSetting("redis_addr", s.RedisAddr)
		printSetting("trace_dir", s.TraceDir)
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value.

Available settings:
  config    - Default run file (used when run/check get no argument)
  redis     - Redis address for the control surface and publishing
  trace_dir - Directory for relative --trace file names`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, value := args[0], args[1]

		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}

		switch setting {
		case "config", "default_config":
			s.DefaultConfig = value
			fmt.Printf("Default run file set to: %s\n", value)
		case "redis", "redis_addr":
			s.RedisAddr = value
			fmt.Printf("Redis address set to: %s\n", value)
		case "trace_dir":
			s.TraceDir = value
			fmt.Printf("Trace directory set to: %s\n", value)
		default:
			return fmt.Errorf("unknown setting: %s (valid: config, redis, trace_dir)", setting)
		}

		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("Settings cleared")
		return nil
	},
}
