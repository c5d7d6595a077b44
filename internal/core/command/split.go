// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"strings"
)

// redirect is a single file redirection found in a segment
type redirect struct {
	op     string
	target string
}

// segment is one simple command of a chain, with its redirections removed
// from the text and collected separately
type segment struct {
	text      string
	redirects []redirect
}

// scanError carries a rejection reason discovered while splitting
type scanError struct {
	reason string
}

func (e *scanError) Error() string { return e.reason }

func rejectf(format string, args ...interface{}) error {
	return &scanError{reason: fmt.Sprintf(format, args...)}
}

const wordBreaks = ";&|<>()\n"

// splitChain splits text on &&, ||, ;, | and newlines while honouring shell
// quoting. Redirections are lifted out of each segment so that callers can
// check their targets separately.
func splitChain(text string) ([]segment, error) {
	var (
		segments []segment
		cur      strings.Builder
		redirs   []redirect
		lastOp   = "\n"
	)

	flush := func(op string) error {
		lastOp = op
		s := strings.TrimSpace(cur.String())
		if s == "" && len(redirs) == 0 {
			if op == "\n" {
				return nil
			}
			return rejectf("empty command segment around %q", op)
		}
		segments = append(segments, segment{text: s, redirects: redirs})
		cur.Reset()
		redirs = nil
		return nil
	}

	r := []rune(text)
	n := len(r)
	for i := 0; i < n; i++ {
		c := r[i]
		next := rune(0)
		if i+1 < n {
			next = r[i+1]
		}

		switch {
		case c == '\'':
			j := indexFrom(r, i+1, '\'')
			if j < 0 {
				return nil, rejectf("unbalanced single quote")
			}
			cur.WriteString(string(r[i : j+1]))
			i = j
		case c == '"':
			j, err := closeDoubleQuote(r, i+1)
			if err != nil {
				return nil, err
			}
			cur.WriteString(string(r[i : j+1]))
			i = j
		case c == '\\':
			cur.WriteRune(c)
			if next != 0 {
				cur.WriteRune(next)
				i++
			}
		case c == '$' && isNameStart(next):
			return nil, rejectf("variable expansion is not allowed")
		case c == '&' && next == '&', c == '|' && next == '|':
			if err := flush(string([]rune{c, next})); err != nil {
				return nil, err
			}
			i++
		case c == '|', c == ';', c == '\n':
			if c == '|' && next == '&' {
				return nil, rejectf("background operator & is not allowed")
			}
			if err := flush(string(c)); err != nil {
				return nil, err
			}
		case c == '&' && next == '>', c == '>', c == '<':
			stripDescriptorPrefix(&cur)
			rd, end, err := readRedirect(r, i)
			if err != nil {
				return nil, err
			}
			if rd != nil {
				redirs = append(redirs, *rd)
			}
			i = end
		case c == '&':
			return nil, rejectf("background operator & is not allowed")
		case c == '(' || c == ')':
			return nil, rejectf("subshell grouping is not allowed")
		default:
			cur.WriteRune(c)
		}
	}

	// A trailing ; is harmless, a trailing && or | is not.
	if lastOp == ";" {
		lastOp = "\n"
	}
	if err := flush(lastOp); err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, rejectf("empty command")
	}
	return segments, nil
}

// readRedirect parses the redirection starting at r[i]. It returns nil for
// descriptor duplication such as 2>&1 and the index of the last rune consumed.
func readRedirect(r []rune, i int) (*redirect, int, error) {
	n := len(r)
	var op strings.Builder
	if r[i] == '&' {
		op.WriteRune('&')
		i++
	}
	dir := r[i]
	op.WriteRune(dir)
	i++

	if i < n && r[i] == '(' {
		return nil, 0, rejectf("process substitution is not allowed")
	}
	if dir == '<' && i < n && r[i] == '<' {
		return nil, 0, rejectf("here-documents are not allowed")
	}
	if dir == '>' && i < n && (r[i] == '>' || r[i] == '|') {
		op.WriteRune(r[i])
		i++
	}

	// Descriptor duplication: >&2, 2>&1, <&0, >&-
	if i < n && r[i] == '&' && !strings.HasPrefix(op.String(), "&") {
		i++
		start := i
		for i < n && (isDigit(r[i]) || r[i] == '-') {
			i++
		}
		if i == start {
			return nil, 0, rejectf("malformed descriptor redirect")
		}
		return nil, i - 1, nil
	}

	for i < n && (r[i] == ' ' || r[i] == '\t') {
		i++
	}

	var target strings.Builder
	for i < n && !isSpace(r[i]) && !strings.ContainsRune(wordBreaks, r[i]) {
		switch r[i] {
		case '\'':
			j := indexFrom(r, i+1, '\'')
			if j < 0 {
				return nil, 0, rejectf("unbalanced single quote")
			}
			target.WriteString(string(r[i+1 : j]))
			i = j
		case '"':
			j, err := closeDoubleQuote(r, i+1)
			if err != nil {
				return nil, 0, err
			}
			target.WriteString(string(r[i+1 : j]))
			i = j
		case '\\':
			if i+1 < n {
				i++
				target.WriteRune(r[i])
			}
		default:
			target.WriteRune(r[i])
		}
		i++
	}

	if target.Len() == 0 {
		return nil, 0, rejectf("redirect %s has no target", op.String())
	}
	return &redirect{op: op.String(), target: target.String()}, i - 1, nil
}

// closeDoubleQuote returns the index of the quote closing a string that
// starts at r[i]. Expansions inside double quotes are still live in a shell,
// so they are rejected here too.
func closeDoubleQuote(r []rune, i int) (int, error) {
	for ; i < len(r); i++ {
		switch r[i] {
		case '\\':
			i++
		case '$':
			if i+1 < len(r) && isNameStart(r[i+1]) {
				return 0, rejectf("variable expansion is not allowed")
			}
		case '"':
			return i, nil
		}
	}
	return 0, rejectf("unbalanced double quote")
}

// stripDescriptorPrefix drops a trailing file descriptor number (the 2 in
// 2>file) from the segment being built.
func stripDescriptorPrefix(cur *strings.Builder) {
	s := cur.String()
	k := len(s)
	for k > 0 && s[k-1] >= '0' && s[k-1] <= '9' {
		k--
	}
	if k == len(s) {
		return
	}
	if k == 0 || s[k-1] == ' ' || s[k-1] == '\t' {
		cur.Reset()
		cur.WriteString(s[:k])
	}
}

func indexFrom(r []rune, start int, c rune) int {
	for i := start; i < len(r); i++ {
		if r[i] == c {
			return i
		}
	}
	return -1
}

func isNameStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\r'
}
