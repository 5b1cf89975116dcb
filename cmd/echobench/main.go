// Command echobench runs rotation validation runs against an echoing DUT.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/echobench/pkg/settings"
	"github.com/newtron-network/echobench/pkg/util"
	"github.com/newtron-network/echobench/pkg/version"
)

var (
	verbose bool
	logJSON bool

	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

var rootCmd = &cobra.Command{
	Use:               "echobench",
	Short:             "Source-rotation validation for echoing network engines",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Echobench checks that a DUT echoes every unit it receives, in order,
while its upstream source is switched through a schedule.

A run file (YAML) names the sources, the schedule, and the bench.

  echobench check rotation.yaml     # validate a run file
  echobench run rotation.yaml       # run it
  echobench run rotation.yaml -v    # with tolerated mismatches and resyncs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		// Quiet by default; the console reporter carries the run.
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if logJSON {
			util.SetJSONFormat()
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("echobench dev build (use 'make build' for version info)")
		} else {
			fmt.Printf("echobench %s\n", version.Info())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsClearCmd)
	rootCmd.AddCommand(runCmd, checkCmd, settingsCmd, versionCmd)
}
