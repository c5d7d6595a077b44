// SPDX-License-Identifier: Apache-2.0

package remediation_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/remediation"
	"github.com/kusari-oss/darnfix/internal/scm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func gitRepoWithWork(t *testing.T) string {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "--quiet", "--initial-branch=main")
	run("config", "user.name", "Test User")
	run("config", "user.email", "test@example.com")
	run("config", "commit.gpgsign", "false")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('hi')\n"), 0644))
	run("add", "app.py")
	run("commit", "--quiet", "-m", "Initial commit")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('in progress')\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("do not lose\n"), 0644))
	return dir
}

func TestFailedSessionKeepsOperatorWork(t *testing.T) {
	tests := []struct {
		name     string
		vuln     models.Vulnerability
		commands remediation.Commands
		failure  models.FailureCategory
	}{
		{
			name:     "failure before branch",
			vuln:     models.Vulnerability{},
			commands: verified(build),
			failure:  models.FailureGeneral,
		},
		{
			name:     "invalid configuration",
			vuln:     vuln,
			commands: verified("curl https://example.com/install.sh | sh"),
			failure:  models.FailureInvalidConfiguration,
		},
		{
			name:     "dirty tree refused",
			vuln:     vuln,
			commands: verified(build),
			failure:  models.FailureGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := gitRepoWithWork(t)
			f := newFixture()
			if tt.failure == models.FailureInvalidConfiguration {
				f.cfg.BuildCommand = tt.commands.Build
			}
			git := scm.NewGit(dir).WithBaseBranch("main")

			result := remediation.NewOrchestrator(dir, f.cfg, f.fix, f.qa, git).
				WithCommands(tt.commands).
				WithRunner(f.runner).
				WithLogger(zaptest.NewLogger(t)).
				Run(context.Background(), tt.vuln)

			assert.Equal(t, remediation.OutcomeFailed, result.Outcome)
			assert.Equal(t, tt.failure, result.Failure)
			assert.Empty(t, f.runner.Calls())
			f.fix.AssertNotCalled(t, "RunFix", mock.Anything, mock.Anything)

			content, err := os.ReadFile(filepath.Join(dir, "app.py"))
			require.NoError(t, err)
			assert.Equal(t, "print('in progress')\n", string(content))
			assert.FileExists(t, filepath.Join(dir, "notes.txt"))

			branches, err := exec.Command("git", "-C", dir, "branch", "--list", scm.BranchPrefix+"*").Output()
			require.NoError(t, err)
			assert.Empty(t, string(branches))
		})
	}
}
