package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/echobench/pkg/cli"
)

var checkRedis string

var checkCmd = &cobra.Command{
	Use:   "check [run-file]",
	Short: "Validate a run file without running it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfig(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path, resolveRedisAddr(checkRedis))
		if err != nil {
			return err
		}
		schedule, err := cfg.ResolveSchedule()
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s\n\n", path, cli.Green("ok"))
		t := cli.NewTable("SETTING", "VALUE")
		t.Row("name", cfg.Name)
		t.Row("window_size", fmt.Sprintf("%d", cfg.Window()))
		t.Row("tolerance", cfg.Tolerance)
		t.Row("timeout", cfg.Timeout.String())
		t.Row("schedule", fmt.Sprintf("%d sources", len(schedule)))
		t.Row("control", cfg.Control.Backend)
		if cfg.Publish != nil {
			t.Row("publish", cfg.Publish.Channel)
		}
		if cfg.Relay != nil {
			t.Row("relay", cfg.Relay.Host)
		}
		t.Flush()
		fmt.Println()

		st := cli.NewTable("#", "SOURCE", "REGISTER", "VALUE")
		for i, s := range schedule {
			st.Row(fmt.Sprintf("%d", i+1), s.String(), string(s.Register()), fmt.Sprintf("0x%08x", s.Value()))
		}
		st.Flush()
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkRedis, "redis", "", "Redis address override (control and publish)")
}
