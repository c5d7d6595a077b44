// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"strings"
)

const (
	smallOutputLimit = 2000
	errorScanLines   = 500
	errorContext     = 5
	maxErrorBlocks   = 3
	fallbackLines    = 50
)

var errorIndicators = []string{"error", "exception", "failed", "failure", "fatal"}

// ExtractBuildErrors condenses build output to the regions most likely to
// explain a failure. Short output is returned untouched. Otherwise the last
// lines are scanned for error indicators, each hit is expanded with context,
// nearby hits are merged and the most recent blocks are returned.
func ExtractBuildErrors(output string) string {
	if len(output) < smallOutputLimit {
		return output
	}

	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > errorScanLines {
		lines = lines[len(lines)-errorScanLines:]
	}

	var hits []int
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, indicator := range errorIndicators {
			if strings.Contains(lower, indicator) {
				hits = append(hits, i)
				break
			}
		}
	}

	if len(hits) == 0 {
		tail := lines
		if len(tail) > fallbackLines {
			tail = tail[len(tail)-fallbackLines:]
		}
		return "BUILD FAILURE - LAST OUTPUT:\n\n" + strings.Join(tail, "\n")
	}

	type region struct{ start, end int }
	var regions []region
	cur := region{start: max(0, hits[0]-errorContext), end: hits[0] + errorContext}
	for _, idx := range hits[1:] {
		// Small gaps between regions are absorbed.
		if idx-errorContext <= cur.end+2 {
			cur.end = idx + errorContext
			continue
		}
		regions = append(regions, cur)
		cur = region{start: max(0, idx-errorContext), end: idx + errorContext}
	}
	regions = append(regions, cur)

	if len(regions) > maxErrorBlocks {
		regions = regions[len(regions)-maxErrorBlocks:]
	}

	blocks := make([]string, 0, len(regions))
	for _, r := range regions {
		end := min(r.end, len(lines)-1)
		blocks = append(blocks, strings.Join(lines[r.start:end+1], "\n"))
	}
	return "BUILD FAILURE - KEY ERRORS:\n\n" + strings.Join(blocks, "\n\n...\n\n")
}

// TruncateHead keeps the last limit bytes of s and prefixes marker when
// anything was cut.
func TruncateHead(s string, limit int, marker string) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return marker + "\n" + s[len(s)-limit:]
}
