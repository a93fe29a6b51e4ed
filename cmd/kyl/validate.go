package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tetherball88/Know-Your-Limits/config"
	"github.com/tetherball88/Know-Your-Limits/scenario"
)

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml...]",
	Short: "Check the configuration and scenario files",
	Long: `Load the configuration and every scenario given, reporting all problems found.

Examples:
  # Configuration only
  kyl validate

  # Configuration plus scenarios
  kyl validate scenarios/*.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		failed := 0
		report := func(name string, err error) {
			if err == nil {
				fmt.Fprintf(out, "%s %s\n", green("ok"), name)
				return
			}
			failed++
			fmt.Fprintf(out, "%s %s\n", red("FAIL"), name)
			for _, e := range multierr.Errors(err) {
				fmt.Fprintf(out, "    %v\n", e)
			}
		}

		_, err := config.Load(configPath)
		report(configPath, err)
		for _, path := range args {
			_, err := scenario.Load(path)
			report(path, err)
		}

		if failed > 0 {
			return fmt.Errorf("%d file(s) invalid", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
