// SPDX-License-Identifier: Apache-2.0

package executor_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/stretchr/testify/assert"
)

func TestExtractBuildErrorsShortOutput(t *testing.T) {
	out := "compiling...\nerror: something broke\n"
	assert.Equal(t, out, executor.ExtractBuildErrors(out))
}

func TestExtractBuildErrorsFindsErrorRegions(t *testing.T) {
	var lines []string
	for i := 0; i < 300; i++ {
		lines = append(lines, fmt.Sprintf("[INFO] compiling module %03d", i))
	}
	lines[100] = "[ERROR] first failure in Foo.java"
	lines[250] = "[ERROR] second failure in Bar.java"
	lines[252] = "Caused by: NullPointerException"
	out := strings.Join(lines, "\n")

	got := executor.ExtractBuildErrors(out)
	assert.True(t, strings.HasPrefix(got, "BUILD FAILURE - KEY ERRORS:"))
	assert.Contains(t, got, "first failure in Foo.java")
	assert.Contains(t, got, "second failure in Bar.java")
	assert.Contains(t, got, "NullPointerException")
	assert.Contains(t, got, "[INFO] compiling module 095")
	assert.NotContains(t, got, "[INFO] compiling module 094")
	assert.Equal(t, 1, strings.Count(got, "\n\n...\n\n"))
}

func TestExtractBuildErrorsKeepsLastThreeBlocks(t *testing.T) {
	var lines []string
	for i := 0; i < 400; i++ {
		lines = append(lines, fmt.Sprintf("step %03d ok", i))
	}
	for _, idx := range []int{50, 100, 150, 200, 250} {
		lines[idx] = fmt.Sprintf("fatal: block at %d", idx)
	}

	got := executor.ExtractBuildErrors(strings.Join(lines, "\n"))
	assert.NotContains(t, got, "block at 50")
	assert.NotContains(t, got, "block at 100")
	assert.Contains(t, got, "block at 150")
	assert.Contains(t, got, "block at 250")
}

func TestExtractBuildErrorsFallback(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("output line %03d with nothing notable", i))
	}

	got := executor.ExtractBuildErrors(strings.Join(lines, "\n"))
	assert.True(t, strings.HasPrefix(got, "BUILD FAILURE - LAST OUTPUT:"))
	assert.Contains(t, got, "output line 199")
	assert.Contains(t, got, "output line 150")
	assert.NotContains(t, got, "output line 149")
}

func TestTruncateHead(t *testing.T) {
	assert.Equal(t, "short", executor.TruncateHead("short", 10, "..."))
	assert.Equal(t, "...cut\nworld", executor.TruncateHead("hello world", 5, "...cut"))
}
