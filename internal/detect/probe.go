// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Prober checks that the tool a candidate needs is available
type Prober interface {
	Available(executable, repoRoot string) bool
}

// ToolProber looks tools up on PATH. Wrapper scripts such as ./gradlew must
// exist in the repository and be executable.
type ToolProber struct{}

// Available implements Prober
func (ToolProber) Available(executable, repoRoot string) bool {
	if executable == "" {
		return false
	}
	if strings.HasPrefix(executable, "./") {
		info, err := os.Stat(filepath.Join(repoRoot, filepath.FromSlash(executable)))
		if err != nil || info.IsDir() {
			return false
		}
		return info.Mode().Perm()&0o111 != 0
	}
	_, err := exec.LookPath(executable)
	return err == nil
}
