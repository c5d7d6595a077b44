// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the marker paths and their contents. Two scans of an
// unmodified tree produce the same fingerprint.
func Fingerprint(repoRoot string, projects []ProjectFacts) string {
	paths := allMarkers(projects)
	sort.Strings(paths)

	h := blake3.New()
	for _, p := range paths {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
		if data, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(p))); err == nil {
			_, _ = h.Write(data)
		}
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
