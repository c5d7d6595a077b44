// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var list bool

	validateCmd := &cobra.Command{
		Use:   "validate [flags] -- <command>",
		Short: "Check a build or test command against the command policy",
		Long: `Validate reports whether a command would be allowed to run. Quote the
command or place it after -- so its flags are not parsed by darnfix.`,
		Example: `  darnfix validate -- mvn -q test
  darnfix validate "npm ci && npm test"
  darnfix validate --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				ecosystems := make([]string, 0, len(command.Allowlist))
				for eco := range command.Allowlist {
					ecosystems = append(ecosystems, string(eco))
				}
				sort.Strings(ecosystems)
				for _, eco := range ecosystems {
					fmt.Fprintf(out, "%s: %s\n", eco, strings.Join(command.Allowlist[command.Ecosystem(eco)], ", "))
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("a command to validate is required")
			}

			text := command.Normalize(strings.Join(args, " "))
			verdict := command.Validate(text)
			if !verdict.IsAllowed() {
				opts.logger.Debug("command rejected", zap.String("command", text), zap.String("reason", verdict.Reason))
				return fmt.Errorf("rejected: %s", verdict.Reason)
			}
			fmt.Fprintf(out, "allowed: %s\n", text)
			return nil
		},
	}

	validateCmd.Flags().BoolVar(&list, "list", false, "list the allowed executables by ecosystem")
	return validateCmd
}
