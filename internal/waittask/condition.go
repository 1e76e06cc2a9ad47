// Package waittask implements durable condition-polling background
// jobs: a shell command is re-run on an
// interval until its output satisfies a success or failure condition,
// or an absolute deadline passes.
package waittask

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// conditionKind tags a parsed Condition's matching strategy.
type conditionKind string

const (
	conditionContains conditionKind = "contains"
	conditionEquals   conditionKind = "equals"
	conditionRegex    conditionKind = "regex"
	conditionExit     conditionKind = "exit"
	conditionBareText conditionKind = "bare_text"
)

// Condition is a parsed success/failure grammar string. The grammar is
// `contains:<s>`, `equals:<s>`, `regex:<p>`, `exit:<n>`, or bare text
// (treated as an implicit substring match).
type Condition struct {
	kind  conditionKind
	text  string
	re    *regexp.Regexp
	exitN int
}

// ParseCondition compiles raw into a matchable Condition. An empty raw
// string parses to a Condition that never matches, used for the
// optional FailureCondition field.
func ParseCondition(raw string) (Condition, error) {
	if raw == "" {
		return Condition{kind: ""}, nil
	}
	switch {
	case strings.HasPrefix(raw, "contains:"):
		return Condition{kind: conditionContains, text: strings.TrimPrefix(raw, "contains:")}, nil
	case strings.HasPrefix(raw, "equals:"):
		return Condition{kind: conditionEquals, text: strings.TrimPrefix(raw, "equals:")}, nil
	case strings.HasPrefix(raw, "regex:"):
		pattern := strings.TrimPrefix(raw, "regex:")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Condition{}, fmt.Errorf("waittask: invalid regex condition %q: %w", pattern, err)
		}
		return Condition{kind: conditionRegex, re: re}, nil
	case strings.HasPrefix(raw, "exit:"):
		n, err := strconv.Atoi(strings.TrimPrefix(raw, "exit:"))
		if err != nil {
			return Condition{}, fmt.Errorf("waittask: invalid exit condition %q: %w", raw, err)
		}
		return Condition{kind: conditionExit, exitN: n}, nil
	default:
		return Condition{kind: conditionBareText, text: raw}, nil
	}
}

// Match reports whether output/exitCode satisfies the condition. A zero
// Condition (from an empty raw string) never matches.
func (c Condition) Match(output string, exitCode int) bool {
	switch c.kind {
	case conditionContains, conditionBareText:
		return strings.Contains(output, c.text)
	case conditionEquals:
		return strings.TrimRight(output, "\n") == c.text
	case conditionRegex:
		return c.re.MatchString(output)
	case conditionExit:
		return exitCode == c.exitN
	default:
		return false
	}
}
