// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/format"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/remediation"
	"github.com/kusari-oss/darnfix/internal/scm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// branchController is the part of scm.Git the reporter needs
type branchController interface {
	Commit(ctx context.Context, message string) error
	Restore(ctx context.Context) error
}

// reportEntry pairs a vulnerability with the result of its session
type reportEntry struct {
	Vulnerability models.Vulnerability `json:"vulnerability" yaml:"vulnerability"`
	Result        *remediation.Result  `json:"result" yaml:"result"`
}

// cliReporter prints the review section of every session and commits
// successful changes when asked to.
type cliReporter struct {
	out     io.Writer
	git     branchController
	commit  bool
	logger  *zap.Logger
	entries []reportEntry
}

func (r *cliReporter) Report(ctx context.Context, v models.Vulnerability, result *remediation.Result) error {
	r.entries = append(r.entries, reportEntry{Vulnerability: v, Result: result})

	title := v.Title
	if title == "" {
		title = v.ID
	}
	fmt.Fprintf(r.out, "# %s: %s\n\n", v.ID, title)
	if result.Summary != "" {
		fmt.Fprintln(r.out, result.Summary)
	}
	fmt.Fprintln(r.out, remediation.ReviewSection(result))

	if !r.commit || !result.Succeeded() || len(result.ChangedFiles) == 0 {
		return nil
	}
	if err := r.git.Commit(ctx, commitMessage(v)); err != nil {
		return fmt.Errorf("error committing remediation of %s: %w", v.ID, err)
	}
	r.logger.Info("committed remediation", zap.String("vulnerability", v.ID), zap.String("branch", result.Branch))
	return r.git.Restore(ctx)
}

func commitMessage(v models.Vulnerability) string {
	if v.Title == "" {
		return "Remediate " + v.ID
	}
	return fmt.Sprintf("Remediate %s: %s", v.ID, v.Title)
}

func newRemediateCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		commit bool
		budget time.Duration
	)

	remediateCmd := &cobra.Command{
		Use:   "remediate [vulnerability-file]",
		Short: "Fix vulnerabilities and verify the fix with the project's build",
		Long: `Remediate runs one session per vulnerability in the file. Each session checks
that the build passes, runs the fix agent on a fresh branch, and loops the QA
agent until the build passes again or the attempt limit is reached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			vulns, err := format.LoadVulnerabilities(args[0])
			if err != nil {
				return err
			}
			if len(vulns) > 1 && !commit {
				return fmt.Errorf("remediating %d vulnerabilities requires --commit so each fix stays on its own branch", len(vulns))
			}

			runner, err := opts.agentRunner(ctx)
			if err != nil {
				return fmt.Errorf("error creating agent: %w", err)
			}

			commands, err := remediation.ResolveCommands(ctx, opts.cfg, opts.detector(runner), opts.projectDir, opts.logger)
			if err != nil {
				return err
			}

			git := scm.NewGit(opts.projectDir).
				WithBaseBranch(opts.cfg.BaseBranch).
				WithLogger(opts.logger)
			orchestrator := remediation.NewOrchestrator(opts.projectDir, opts.cfg, runner, runner, git).
				WithCommands(commands).
				WithLogger(opts.logger)
			reporter := &cliReporter{out: cmd.OutOrStdout(), git: git, commit: commit, logger: opts.logger}

			summary, err := remediation.NewDriver(remediation.NewSliceSource(vulns), orchestrator, reporter).
				WithBudget(budget).
				WithLogger(opts.logger).
				Run(ctx)
			if output != "" {
				if werr := format.WriteFile(output, reporter.entries); werr != nil {
					return fmt.Errorf("error writing results: %w", werr)
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d: %d succeeded, %d unverified, %d failed, %d skipped\n",
				summary.Processed, summary.Succeeded, summary.Unverified, summary.Failed, summary.Skipped)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d remediations failed", summary.Failed, summary.Processed)
			}
			return nil
		},
	}

	remediateCmd.Flags().StringVarP(&output, "output", "o", "", "write session results to a file (JSON or YAML by extension)")
	remediateCmd.Flags().BoolVar(&commit, "commit", false, "commit each successful fix on its remediation branch")
	remediateCmd.Flags().DurationVar(&budget, "budget", 0, "stop starting new sessions after this long (0 means no limit)")
	return remediateCmd
}
