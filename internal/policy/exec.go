package policy

import (
	"regexp"
	"strings"
)

// simplePatterns matches commands whose destructive intent does not
// depend on flag combination or argument position.
var simplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bwipefs\b`),
	regexp.MustCompile(`\bshred\b.*\s/dev/\S+`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), // fork bomb
	regexp.MustCompile(`\bdd\s+.*\bof=/dev/\S+`),
}

// IsDestructiveCommand reports whether cmd matches a known destructive
// shell pattern. mkfs, wipefs, shred, dd and the fork bomb are matched
// by the simplePatterns regular expressions; rm and chmod are judged on
// their parsed flag/argument shape, so equivalent invocations written
// with different flag grouping or spacing are caught the same way.
func IsDestructiveCommand(cmd string) bool {
	normalized := strings.ToLower(cmd)

	for _, pattern := range simplePatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}

	for _, stmt := range splitStatements(normalized) {
		tokens := strings.Fields(stmt)
		if len(tokens) == 0 {
			continue
		}
		switch CommandBasename(tokens[0]) {
		case "rm":
			if isDestructiveRm(tokens[1:]) {
				return true
			}
		case "chmod":
			if isDestructiveChmod(tokens[1:]) {
				return true
			}
		}
	}
	return false
}

// splitStatements breaks a shell line on the separators that start a new
// command (;, &&, ||, |, &) so each statement's argv can be judged on
// its own, independent of what runs before or after it.
func splitStatements(cmd string) []string {
	return regexp.MustCompile(`[;&|]+`).Split(cmd, -1)
}

// isDestructiveRm reports whether an `rm` invocation's arguments carry
// both recursive and force flags (in any grouping or order) and target
// the filesystem root or a root-level glob.
func isDestructiveRm(args []string) bool {
	hasRecursive, hasForce := false, false
	var targets []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && arg != "-" && !strings.HasPrefix(arg, "--") {
			flags := arg[1:]
			if strings.ContainsRune(flags, 'r') || strings.ContainsRune(flags, 'R') {
				hasRecursive = true
			}
			if strings.ContainsRune(flags, 'f') {
				hasForce = true
			}
			continue
		}
		if arg == "--recursive" {
			hasRecursive = true
			continue
		}
		if arg == "--force" {
			hasForce = true
			continue
		}
		if strings.HasPrefix(arg, "--") {
			continue
		}
		targets = append(targets, arg)
	}
	if !hasRecursive || !hasForce {
		return false
	}
	for _, t := range targets {
		if isRootTarget(t) {
			return true
		}
	}
	return false
}

func isRootTarget(target string) bool {
	switch target {
	case "/", "/*":
		return true
	}
	// A single top-level directory wipe, e.g. "/etc" or "/var/*", is as
	// destructive in practice as wiping "/" outright.
	if strings.HasPrefix(target, "/") && strings.Count(strings.TrimSuffix(target, "/*"), "/") == 1 {
		return true
	}
	return false
}

// isDestructiveChmod reports whether a `chmod` invocation recursively
// strips all permissions from the filesystem root.
func isDestructiveChmod(args []string) bool {
	recursive := false
	mode := ""
	target := ""
	for _, arg := range args {
		switch {
		case arg == "-R" || arg == "--recursive":
			recursive = true
		case strings.HasPrefix(arg, "-"):
			// other flags ignored
		case mode == "":
			mode = arg
		default:
			target = arg
		}
	}
	return recursive && mode == "000" && (target == "/" || target == "/*")
}

// CommandBasename extracts argv-0's basename from a command line, e.g.
// "/usr/bin/curl -s https://x" -> "curl". Used by check_exec's allowlist
// comparison.
func CommandBasename(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	first := fields[0]
	if idx := strings.LastIndexByte(first, '/'); idx >= 0 {
		return first[idx+1:]
	}
	return first
}
