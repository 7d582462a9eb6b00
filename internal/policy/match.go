package policy

import (
	"strings"

	"github.com/wasilibs/go-re2"
)

// compoundRe matches shell constructs that chain, pipe, redirect, or
// substitute: any of them means the command is more than one command.
var compoundRe = re2.MustCompile(`\|\||&&|[|;&]|\$\(|` + "`" + `|>>?|<<?`)

// compoundConstruct returns the first compound shell construct found in the
// command, or "" when the command is a single plain invocation.
func compoundConstruct(command string) string {
	return compoundRe.FindString(command)
}

// Match reports whether a command matches a policy pattern. Patterns use '*'
// to match any run of characters (including none) and '?' to match exactly
// one. A pattern ending in " *" additionally matches the bare command with
// no arguments, so "git push *" covers a plain "git push".
func Match(command, pattern string) bool {
	command = strings.TrimSpace(command)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if globMatch(command, pattern) {
		return true
	}
	if base, ok := strings.CutSuffix(pattern, " *"); ok {
		return globMatch(command, base)
	}
	return false
}

// globMatch is an iterative two-pointer glob matcher: linear in the command
// length with backtracking only to the most recent '*'.
func globMatch(s, p string) bool {
	si, pi := 0, 0
	starPi, starSi := -1, 0

	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == s[si] || p[pi] == '?'):
			si++
			pi++
		case pi < len(p) && p[pi] == '*':
			starPi = pi
			starSi = si
			pi++
		case starPi >= 0:
			pi = starPi + 1
			starSi++
			si = starSi
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
