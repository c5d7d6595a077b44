// SPDX-License-Identifier: Apache-2.0

package remediation

import (
	"context"
	"fmt"

	"github.com/kusari-oss/darnfix/internal/core/config"
	"github.com/kusari-oss/darnfix/internal/detect"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

// Commands are the build and format commands a session runs
type Commands struct {
	Build  string `json:"build,omitempty" yaml:"build,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// BuildVerifiable is false when Build is the detector's no-op placeholder
	BuildVerifiable bool `json:"build_verifiable" yaml:"build_verifiable"`
	// Detection is set when Build was detected rather than configured
	Detection *detect.Detection `json:"detection,omitempty" yaml:"detection,omitempty"`
}

// Detector finds commands for a repository
type Detector interface {
	DetectBuildCommand(ctx context.Context, repoRoot string) (*detect.Detection, error)
	DetectFormatCommand(ctx context.Context, repoRoot string) (*detect.Detection, bool)
}

// ResolveCommands applies configured overrides and detects the rest. A
// missing build command is an error only when the configuration requires one.
func ResolveCommands(ctx context.Context, cfg *config.Config, detector Detector, repoRoot string, logger *zap.Logger) (Commands, error) {
	logger = logging.OrNop(logger)
	var c Commands

	switch {
	case cfg.BuildCommand != "":
		c.Build = cfg.BuildCommand
		c.BuildVerifiable = true
		logger.Info("using configured build command", zap.String("command", c.Build))
	case cfg.DetectCommands && detector != nil:
		detection, err := detector.DetectBuildCommand(ctx, repoRoot)
		if err != nil {
			return c, fmt.Errorf("build command detection failed: %w", err)
		}
		c.Build = detection.Command.Text
		c.BuildVerifiable = !detection.IsNoOp()
		c.Detection = detection
		if !c.BuildVerifiable {
			logger.Warn("no working build command found, fixes will be unverified")
		}
	}

	switch {
	case cfg.FormatCommand != "":
		c.Format = cfg.FormatCommand
	case cfg.DetectCommands && detector != nil:
		if detection, ok := detector.DetectFormatCommand(ctx, repoRoot); ok {
			c.Format = detection.Command.Text
		}
	}

	if cfg.RequireBuild && c.Build == "" {
		return c, fmt.Errorf("%w: a build command is required but none was configured or detected", config.ErrInvalidConfiguration)
	}
	return c, nil
}
