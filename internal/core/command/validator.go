// SPDX-License-Identifier: Apache-2.0

// Package command classifies shell command lines as safe to run or not.
// Only commands led by an allowlisted build, test, format or package-manager
// executable are accepted, and a blocklist of injection idioms is applied to
// the whole text before any segment is inspected.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Outcome is the result of validating a command
type Outcome int

const (
	Rejected Outcome = iota
	Allowed
)

func (o Outcome) String() string {
	if o == Allowed {
		return "allowed"
	}
	return "rejected"
}

// Verdict is returned for every validation call
type Verdict struct {
	Outcome Outcome
	Reason  string
}

// IsAllowed reports whether the command may be executed
func (v Verdict) IsAllowed() bool {
	return v.Outcome == Allowed
}

func allow() Verdict {
	return Verdict{Outcome: Allowed}
}

func reject(format string, args ...interface{}) Verdict {
	return Verdict{Outcome: Rejected, Reason: fmt.Sprintf(format, args...)}
}

type blockedPattern struct {
	re     *regexp.Regexp
	reason string
}

// Ordered from most to least specific so the reported reason is useful.
var blockedPatterns = []blockedPattern{
	{regexp.MustCompile(`\$\(`), "command substitution $(...) is not allowed"},
	{regexp.MustCompile("`"), "backtick command substitution is not allowed"},
	{regexp.MustCompile(`\$\{`), "brace variable expansion is not allowed"},
	{regexp.MustCompile(`[<>]\(`), "process substitution is not allowed"},
	{regexp.MustCompile(`\beval\b`), "eval is not allowed"},
	{regexp.MustCompile(`(?:^|[\s;&|])exec\s`), "bare exec is not allowed"},
	{regexp.MustCompile(`\b(?:curl|wget)\b[^|]*\|`), "piping a network download is not allowed"},
	{regexp.MustCompile(`\|\s*(?:sudo\s+)?(?:sh|bash|zsh|dash|ksh)\b`), "piping into a shell interpreter is not allowed"},
	{regexp.MustCompile(`\brm\s+(?:-[a-zA-Z]*[rRf][a-zA-Z]*|--recursive|--force)\b`), "destructive deletion is not allowed"},
	{regexp.MustCompile(`[;&|]\s*rm\b`), "deletion after a separator is not allowed"},
	{regexp.MustCompile(`>\s*/dev/`), "redirecting into a device file is not allowed"},
	{regexp.MustCompile(`\bsystem\s*\(`), "system() calls are not allowed"},
}

// argRule inspects the arguments of a specific executable
type argRule func(exe string, args []string) string

var argRules = map[string]argRule{
	"sh":      shellScriptArgs,
	"bash":    shellScriptArgs,
	"python":  pythonArgs,
	"python3": pythonArgs,
	"node":    flagDenyList(true, "-e", "--eval", "-p", "--print"),
	"bun":     flagDenyList(true, "-e", "--eval", "-p", "--print"),
	"php":     flagDenyList(false, "-r", "-R", "-B", "-E"),
	"npx":     flagDenyList(false, "-c", "--call"),
	"cat":     pathArgs,
	"tee":     pathArgs,
	"sed":     sedArgs,
	"awk":     awkArgs,
	"grep":    grepArgs,
}

// Validator checks commands against an allowlist of executables
type Validator struct {
	allowed map[string]bool
}

// NewValidator creates a validator using the default allowlist
func NewValidator() *Validator {
	v := &Validator{allowed: make(map[string]bool)}
	for _, names := range Allowlist {
		for _, name := range names {
			v.allowed[name] = true
		}
	}
	return v
}

// WithAllowed extends the allowlist with additional executables
func (v *Validator) WithAllowed(executables ...string) *Validator {
	for _, name := range executables {
		v.allowed[name] = true
	}
	return v
}

var defaultValidator = NewValidator()

// Validate checks text with the default allowlist
func Validate(text string) Verdict {
	return defaultValidator.Validate(text)
}

// Validate classifies text. It never panics and never returns an error:
// malformed input is reported as a rejection.
func (v *Validator) Validate(text string) Verdict {
	text = Normalize(text)
	if text == "" {
		return reject("empty command")
	}
	if strings.ContainsRune(text, 0) {
		return reject("command contains NUL bytes")
	}

	for _, p := range blockedPatterns {
		if p.re.MatchString(text) {
			return reject("%s", p.reason)
		}
	}

	segments, err := splitChain(text)
	if err != nil {
		var se *scanError
		if errors.As(err, &se) {
			return reject("%s", se.reason)
		}
		return reject("cannot parse command: %v", err)
	}

	for _, seg := range segments {
		if reason := v.validateSegment(seg); reason != "" {
			return reject("%s", reason)
		}
	}
	return allow()
}

func (v *Validator) validateSegment(seg segment) string {
	for _, rd := range seg.redirects {
		if reason := checkPath(rd.target); reason != "" {
			return fmt.Sprintf("redirect target %q: %s", rd.target, reason)
		}
	}
	if seg.text == "" {
		return "redirect without a command"
	}

	args, err := shlex.Split(seg.text)
	if err != nil {
		return fmt.Sprintf("cannot parse %q: %v", seg.text, err)
	}
	if len(args) == 0 {
		return "empty command segment"
	}

	exe := args[0]
	if strings.Contains(exe, "=") {
		return fmt.Sprintf("environment assignment %q before the command is not allowed", exe)
	}
	if !v.allowed[exe] {
		return fmt.Sprintf("executable %q is not in the allowlist", exe)
	}
	if rule, ok := argRules[exe]; ok {
		return rule(exe, args[1:])
	}
	return ""
}

// Normalize folds line continuations and trims surrounding whitespace
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\\\r\n", " ")
	text = strings.ReplaceAll(text, "\\\n", " ")
	return strings.TrimSpace(text)
}

// Executable returns the leading token of the first segment of text, or ""
// when the text cannot be tokenised.
func Executable(text string) string {
	args, err := shlex.Split(Normalize(text))
	if err != nil || len(args) == 0 {
		return ""
	}
	return args[0]
}

// checkPath enforces relative, traversal-free paths
func checkPath(p string) string {
	switch {
	case strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`):
		return "absolute paths are not allowed"
	case strings.HasPrefix(p, "~"):
		return "home directory references are not allowed"
	case len(p) > 1 && p[1] == ':':
		return "absolute paths are not allowed"
	}
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "parent directory traversal is not allowed"
		}
	}
	return ""
}

func shellScriptArgs(exe string, args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			continue
		case strings.HasPrefix(a, "--"):
			return fmt.Sprintf("%s option %s is not allowed", exe, a)
		case a == "-o" || a == "+o":
			i++
			continue
		case strings.HasPrefix(a, "-") || strings.HasPrefix(a, "+"):
			if strings.ContainsAny(a[1:], "cs") {
				return fmt.Sprintf("inline shell execution (%s %s) is not allowed", exe, a)
			}
			continue
		}
		if !strings.HasSuffix(a, ".sh") && !strings.HasSuffix(a, ".bash") {
			return fmt.Sprintf("%s may only run a script file ending in .sh or .bash, got %q", exe, a)
		}
		if reason := checkPath(a); reason != "" {
			return fmt.Sprintf("script path %q: %s", a, reason)
		}
		return ""
	}
	return fmt.Sprintf("%s requires a script file argument", exe)
}

func dangerousFlag(exe, flag string) string {
	return fmt.Sprintf("dangerous interpreter flag %s for %s", flag, exe)
}

// pythonArgs rejects -c (also inside clustered short flags) and reading the
// program from stdin. Scanning stops at -m or the script path.
func pythonArgs(exe string, args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-":
			return fmt.Sprintf("%s reading a program from stdin is not allowed", exe)
		case a == "-m" || a == "--" || !strings.HasPrefix(a, "-"):
			return ""
		case a == "-W" || a == "-X":
			i++
		case strings.HasPrefix(a, "-W") || strings.HasPrefix(a, "-X"):
			continue
		case strings.HasPrefix(a, "--"):
			continue
		case strings.ContainsRune(a[1:], 'c'):
			return dangerousFlag(exe, a)
		case strings.ContainsRune(a[1:], 'm'):
			return ""
		}
	}
	return ""
}

// flagDenyList rejects the given flags, including --flag=value forms, up to
// the first positional argument. With clustered set, single-letter flags are
// also found inside groups such as -pe.
func flagDenyList(clustered bool, denied ...string) argRule {
	return func(exe string, args []string) string {
		for _, a := range args {
			if !strings.HasPrefix(a, "-") || a == "--" {
				return ""
			}
			name := a
			if idx := strings.Index(a, "="); idx > 0 {
				name = a[:idx]
			}
			for _, d := range denied {
				if name == d {
					return dangerousFlag(exe, a)
				}
				if clustered && len(d) == 2 && len(name) > 2 && !strings.HasPrefix(name, "--") && strings.Contains(name[1:], d[1:]) {
					return dangerousFlag(exe, a)
				}
			}
		}
		return ""
	}
}

func pathArgs(exe string, args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if reason := checkPath(a); reason != "" {
			return fmt.Sprintf("%s argument %q: %s", exe, a, reason)
		}
	}
	return ""
}

// Options that consume the following argument as a value rather than a
// script or file.
var (
	grepValueFlags = map[string]bool{"-A": true, "-B": true, "-C": true, "-m": true, "--max-count": true}
	awkValueFlags  = map[string]bool{"-v": true, "-F": true, "--assign": true, "--field-separator": true}
	sedValueFlags  = map[string]bool{"-l": true, "--line-length": true}
)

// scriptOperands splits the arguments of a script-driven tool into its
// inline scripts and checks every file path it reads. The first positional
// argument is the script unless -e or -f supplied one.
func scriptOperands(exe string, args []string, valueFlags map[string]bool) ([]string, string) {
	var scripts []string
	scriptSeen := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		name, value, hasValue := strings.Cut(a, "=")
		if !strings.HasPrefix(a, "--") {
			name, value, hasValue = a, "", false
		}
		switch {
		case name == "-f" || name == "--file":
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Sprintf("%s %s requires a file", exe, a)
				}
				i++
				value = args[i]
			}
			if reason := checkPath(value); reason != "" {
				return nil, fmt.Sprintf("%s script file %q: %s", exe, value, reason)
			}
			scriptSeen = true
		case name == "-e" || name == "--expression" || name == "--regexp" || name == "--source":
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Sprintf("%s %s requires a script", exe, a)
				}
				i++
				value = args[i]
			}
			scripts = append(scripts, value)
			scriptSeen = true
		case valueFlags[name]:
			if !hasValue {
				i++
			}
		case a == "--":
			continue
		case strings.HasPrefix(a, "-"):
			continue
		case !scriptSeen:
			scripts = append(scripts, a)
			scriptSeen = true
		default:
			if reason := checkPath(a); reason != "" {
				return nil, fmt.Sprintf("%s argument %q: %s", exe, a, reason)
			}
		}
	}
	return scripts, ""
}

func grepArgs(exe string, args []string) string {
	_, reason := scriptOperands(exe, args, grepValueFlags)
	return reason
}

var (
	awkGetline  = regexp.MustCompile(`\bgetline\b`)
	awkFileSink = regexp.MustCompile(`>{1,2}\s*"\s*(?:/|~|\.\.)`)
)

// awkArgs rejects programs that reach a shell. Both `print | "cmd"` and
// `"cmd" | getline` hand their string to sh -c, so any pipe is refused.
func awkArgs(exe string, args []string) string {
	scripts, reason := scriptOperands(exe, args, awkValueFlags)
	if reason != "" {
		return reason
	}
	for _, prog := range scripts {
		switch {
		case strings.Contains(strings.ReplaceAll(prog, "||", ""), "|"):
			return fmt.Sprintf("%s pipes run shell commands and are not allowed", exe)
		case awkGetline.MatchString(prog):
			return fmt.Sprintf("%s getline is not allowed", exe)
		case awkFileSink.MatchString(prog):
			return fmt.Sprintf("%s output to an absolute or parent path is not allowed", exe)
		}
	}
	return ""
}

func sedArgs(exe string, args []string) string {
	scripts, reason := scriptOperands(exe, args, sedValueFlags)
	if reason != "" {
		return reason
	}
	for _, script := range scripts {
		if reason := checkSedScript(script); reason != "" {
			return fmt.Sprintf("%s script: %s", exe, reason)
		}
	}
	return ""
}

// checkSedScript walks the commands of a sed script. The e command and the
// e flag of s run shell text; w, W, r and R must name a safe relative file.
// Anything the walker cannot follow is rejected.
func checkSedScript(script string) string {
	sc := &sedScanner{src: script}
	for {
		sc.skip(" \t\n;{}")
		if sc.done() {
			return ""
		}
		if !sc.address() {
			return "cannot parse address"
		}
		sc.skip(" \t")
		if sc.peek() == ',' {
			sc.pos++
			sc.skip(" \t")
			if !sc.address() {
				return "cannot parse address range"
			}
		}
		sc.skip(" \t!")
		if sc.done() {
			return "address without a command"
		}

		cmd := sc.next()
		switch cmd {
		case '{', '}':
		case 'e':
			return "the e command runs shell commands and is not allowed"
		case 's':
			delim := sc.next()
			if delim == 0 || delim == '\n' || delim == '\\' {
				return "malformed s command"
			}
			if !sc.delimited(delim) || !sc.delimited(delim) {
				return "unterminated s command"
			}
			flags := sc.until(";\n}")
			if i := strings.IndexAny(flags, "wW"); i >= 0 {
				if reason := sedFile(flags[i+1:]); reason != "" {
					return reason
				}
				flags = flags[:i]
			}
			if strings.ContainsRune(flags, 'e') {
				return "the e flag of s runs shell commands and is not allowed"
			}
		case 'y':
			delim := sc.next()
			if delim == 0 || delim == '\n' || delim == '\\' {
				return "malformed y command"
			}
			if !sc.delimited(delim) || !sc.delimited(delim) {
				return "unterminated y command"
			}
		case 'w', 'W', 'r', 'R':
			if reason := sedFile(sc.until("\n")); reason != "" {
				return reason
			}
		case 'a', 'i', 'c':
			sc.until("\n")
		case 'b', 't', 'T', ':', 'q', 'Q', 'l', 'L':
			sc.until(";\n}")
		case '#':
			sc.until("\n")
		case 'd', 'D', 'g', 'G', 'h', 'H', 'n', 'N', 'p', 'P', 'x', 'z', 'F', '=':
		default:
			return fmt.Sprintf("unknown command %q", cmd)
		}
	}
}

func sedFile(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "missing file name"
	}
	if reason := checkPath(name); reason != "" {
		return fmt.Sprintf("file %q: %s", name, reason)
	}
	return ""
}

type sedScanner struct {
	src string
	pos int
}

func (s *sedScanner) done() bool { return s.pos >= len(s.src) }

func (s *sedScanner) peek() byte {
	if s.done() {
		return 0
	}
	return s.src[s.pos]
}

func (s *sedScanner) next() byte {
	c := s.peek()
	if c != 0 {
		s.pos++
	}
	return c
}

func (s *sedScanner) skip(set string) {
	for !s.done() && strings.IndexByte(set, s.src[s.pos]) >= 0 {
		s.pos++
	}
}

// until consumes up to, not including, the first byte in stop
func (s *sedScanner) until(stop string) string {
	start := s.pos
	for !s.done() && strings.IndexByte(stop, s.src[s.pos]) < 0 {
		s.pos++
	}
	return s.src[start:s.pos]
}

// delimited consumes text up to an unescaped delim, inclusive
func (s *sedScanner) delimited(delim byte) bool {
	for !s.done() {
		c := s.next()
		switch c {
		case '\\':
			s.next()
		case delim:
			return true
		}
	}
	return false
}

// address consumes an optional line number, $, step or regex address
func (s *sedScanner) address() bool {
	switch c := s.peek(); {
	case c == '/':
		s.pos++
		if !s.delimited('/') {
			return false
		}
		s.skip("IM")
	case c == '\\':
		s.pos++
		delim := s.next()
		if delim == 0 || !s.delimited(delim) {
			return false
		}
		s.skip("IM")
	case c == '$' || c == '+' || c == '~' || (c >= '0' && c <= '9'):
		s.skip("0123456789$+~")
	}
	return true
}
