package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newtron-network/echobench/pkg/harness"
	"github.com/newtron-network/echobench/pkg/trace"
)

var (
	runRedis string
	runTrace string
	runQuiet bool
)

var runCmd = &cobra.Command{
	Use:   "run [run-file]",
	Short: "Run a rotation schedule",
	Long: `Run a rotation schedule against the bench the run file describes.

Exit status: 0 = PASS, 1 = FAIL or TIMEOUT, 2 = infrastructure error.

Examples:
  echobench run rotation.yaml
  echobench run rotation.yaml --trace run.jsonl
  echobench run rotation.yaml --trace - > trace.jsonl
  ECHOBENCH_REDIS_ADDR=10.0.0.5:6379 echobench run lab.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfig(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path, resolveRedisAddr(runRedis))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		setup, err := harness.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer setup.Close()

		console := harness.NewConsoleReporter(verbose)
		var tr trace.Logger
		if runTrace != "" {
			if runTrace == "-" {
				// JSON lines own stdout; the report moves to stderr.
				console.W = os.Stderr
				tr = trace.NewStreamLogger(os.Stdout)
			} else {
				f, err := os.Create(tracePath(runTrace))
				if err != nil {
					return fmt.Errorf("creating trace file: %w", err)
				}
				tr = trace.NewStreamLogger(f)
			}
			defer tr.Close()
		}

		var reporters []harness.Reporter
		if !runQuiet {
			reporters = append(reporters, console)
		}
		runner := harness.NewRunner(cfg, setup, reporters...)
		runner.Trace = tr

		res, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		if res.Passed() {
			return nil
		}
		if tr != nil {
			tr.Close()
		}
		setup.Close()
		// Exit 2 = infra error, Exit 1 = DUT failure
		if res.Outcome == harness.OutcomeError {
			os.Exit(2)
		}
		os.Exit(1)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runRedis, "redis", "", "Redis address override (control and publish)")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "write the trace as JSON lines to a file ('-' for stdout)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "no console report")
}
