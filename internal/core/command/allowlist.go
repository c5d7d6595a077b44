// SPDX-License-Identifier: Apache-2.0

package command

import "sort"

// Ecosystem groups allowlisted executables by the toolchain they belong to
type Ecosystem string

const (
	EcosystemJVM        Ecosystem = "jvm"
	EcosystemDotNet     Ecosystem = "dotnet"
	EcosystemPython     Ecosystem = "python"
	EcosystemNode       Ecosystem = "node"
	EcosystemPHP        Ecosystem = "php"
	EcosystemBuildTools Ecosystem = "build"
	EcosystemShell      Ecosystem = "shell"
)

// Allowlist holds every executable that may lead a validated command segment.
// Wrapper scripts are listed with their ./ prefix because they are only
// accepted when invoked from the project directory.
var Allowlist = map[Ecosystem][]string{
	EcosystemJVM: {
		"mvn", "gradle", "ant", "junit", "testng",
		"./gradlew", "./mvnw", "gradlew", "mvnw",
		"google-java-format", "checkstyle",
	},
	EcosystemDotNet: {
		"dotnet", "msbuild", "nuget",
		"nunit-console", "nunit3-console", "xunit.console",
		"vstest.console", "mstest", "csharpier",
	},
	EcosystemPython: {
		"pip", "pip3", "python", "python3", "pytest", "nose2", "unittest",
		"coverage", "poetry", "pipenv", "uv", "tox", "virtualenv",
		"black", "autopep8", "yapf", "isort", "ruff", "flake8", "pylint",
	},
	EcosystemNode: {
		"npm", "npx", "yarn", "node", "pnpm", "bun",
		"jest", "mocha", "jasmine", "karma", "ava", "vitest", "nyc",
		"prettier", "eslint", "standard",
	},
	EcosystemPHP: {
		"composer", "php", "phpunit", "pest", "codeception",
		"php-cs-fixer", "phpcbf",
		"./vendor/bin/phpunit", "./vendor/bin/php-cs-fixer",
	},
	EcosystemBuildTools: {
		"make", "cmake", "ninja", "bazel", "ctest", "clang-format",
	},
	EcosystemShell: {
		"echo", "sh", "bash", "grep", "sed", "awk", "cat", "tee",
	},
}

// Executables returns the flattened, sorted allowlist
func Executables() []string {
	var all []string
	for _, names := range Allowlist {
		all = append(all, names...)
	}
	sort.Strings(all)
	return all
}

// EcosystemOf returns the ecosystem an executable belongs to
func EcosystemOf(executable string) (Ecosystem, bool) {
	for eco, names := range Allowlist {
		for _, name := range names {
			if name == executable {
				return eco, true
			}
		}
	}
	return "", false
}
