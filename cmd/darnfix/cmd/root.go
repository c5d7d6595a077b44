// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kusari-oss/darnfix/internal/agent"
	"github.com/kusari-oss/darnfix/internal/agent/gemini"
	"github.com/kusari-oss/darnfix/internal/core/config"
	"github.com/kusari-oss/darnfix/internal/detect"
	"github.com/kusari-oss/darnfix/internal/logging"
	"github.com/kusari-oss/darnfix/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds the persistent flags and everything loaded from them
type rootOptions struct {
	configFile string
	projectDir string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd creates the darnfix command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "darnfix",
		Short: "Darnfix - Automated Vulnerability Remediation Tool",
		Long: `Darnfix remediates security findings with language model agents. It detects
how a repository is built and tested, verifies the build before and after the
fix, and lets a QA agent repair builds the fix broke.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version.Version, version.Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is .darnfix.yaml in the project directory)")
	rootCmd.PersistentFlags().StringVar(&opts.projectDir, "project-dir", "", "project directory (default is current directory)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newDetectCmd(opts))
	rootCmd.AddCommand(newRemediateCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	return rootCmd
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) load() error {
	var err error
	if o.projectDir == "" {
		o.projectDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("error getting current directory: %w", err)
		}
	} else {
		o.projectDir, err = filepath.Abs(o.projectDir)
		if err != nil {
			return fmt.Errorf("error resolving project directory: %w", err)
		}
	}

	o.logger, err = logging.New(o.verbose)
	if err != nil {
		return err
	}

	o.cfg, err = config.LoadConfig(o.projectDir, o.configFile, os.LookupEnv, o.logger)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// agentRunner wires the Gemini model through the event-bounded executor
// and the synchronous bridge.
func (o *rootOptions) agentRunner(ctx context.Context) (*agent.Runner, error) {
	model, err := gemini.New(ctx, o.cfg.Agent)
	if err != nil {
		return nil, err
	}
	executor := agent.NewExecutor(model).
		WithMaxEvents(o.cfg.MaxEventsPerAgent).
		WithLogger(o.logger)
	bridge := agent.NewBridge(executor).WithLogger(o.logger)
	return agent.NewRunner(bridge).WithLogger(o.logger), nil
}

// detector builds a command detector. The language model phase is only
// enabled when runner is set.
func (o *rootOptions) detector(runner *agent.Runner) *detect.Detector {
	d := detect.NewDetector().
		WithRunner(&detect.ExecRunner{
			Timeout:     o.cfg.ProbeTimeout,
			OutputLimit: o.cfg.OutputLimit,
			Logger:      o.logger,
		}).
		WithMaxTurns(o.cfg.MaxDetectionTurns).
		WithScanDepth(o.cfg.ScanDepth).
		WithLogger(o.logger)
	if runner != nil {
		d = d.WithSuggester(runner)
	}
	return d
}
