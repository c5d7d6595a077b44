// SPDX-License-Identifier: Apache-2.0

package remediation

import (
	"fmt"
	"strings"
)

// ReviewSection renders the pull request section telling a reviewer how the
// change was verified.
func ReviewSection(r *Result) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n---\n\n## Review\n\n")

	switch r.Outcome {
	case OutcomeSuccess:
		fmt.Fprintf(&b, "*   **Build Run:** Yes (`%s`)\n", r.BuildCommand)
		if r.QAAttempts > 0 {
			fmt.Fprintf(&b, "*   **Final Build Status:** Success after %d QA attempt%s\n", r.QAAttempts, plural(r.QAAttempts))
		} else {
			b.WriteString("*   **Final Build Status:** Success (passed on first attempt)\n")
		}
	case OutcomeUnverified:
		b.WriteString("*   **Build Run:** No\n")
		b.WriteString("*   **Final Build Status:** Unverified\n\n")
		b.WriteString("> **Warning:** this change was not verified by a build or test run. ")
		b.WriteString("Review it carefully and run the project's tests before merging.\n")
	default:
		fmt.Fprintf(&b, "*   **Final Build Status:** Failed (%s)\n", r.Failure)
		if r.ErrorExcerpt != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", r.ErrorExcerpt)
		}
	}

	if len(r.ChangedFiles) > 0 {
		b.WriteString("\n**Changed files:**\n\n")
		for _, f := range r.ChangedFiles {
			fmt.Fprintf(&b, "*   `%s`\n", f)
		}
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
