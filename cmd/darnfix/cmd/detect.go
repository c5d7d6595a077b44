// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/kusari-oss/darnfix/internal/agent"
	"github.com/kusari-oss/darnfix/internal/core/format"
	"github.com/kusari-oss/darnfix/internal/detect"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var (
		noLLM  bool
		output string
	)

	detectCmd := &cobra.Command{
		Use:       "detect [build|format]",
		Short:     "Detect the build or format command of the project",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"build", "format"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var runner *agent.Runner
			if !noLLM && args[0] == "build" {
				r, err := opts.agentRunner(ctx)
				if err != nil {
					opts.logger.Warn("language model unavailable, using marker files only", zap.Error(err))
				} else {
					runner = r
				}
			}
			detector := opts.detector(runner)

			var detection *detect.Detection
			switch args[0] {
			case "build":
				d, err := detector.DetectBuildCommand(ctx, opts.projectDir)
				if err != nil {
					return fmt.Errorf("error detecting build command: %w", err)
				}
				detection = d
			case "format":
				d, ok := detector.DetectFormatCommand(ctx, opts.projectDir)
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "No format command detected")
					return nil
				}
				detection = d
			default:
				return fmt.Errorf("unknown command kind %q, expected build or format", args[0])
			}

			if output != "" {
				if err := format.WriteFile(output, detection); err != nil {
					return fmt.Errorf("error writing output file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Detection saved to %s\n", output)
				return nil
			}
			data, err := format.Marshal(detection, true)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	detectCmd.Flags().BoolVar(&noLLM, "no-llm", false, "never ask the language model for a command")
	detectCmd.Flags().StringVarP(&output, "output", "o", "", "write the detection to a file (JSON or YAML by extension)")
	return detectCmd
}
