package policy

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/relaymesh/core/pkg/models"
)

// Origin distinguishes tools shipped with the runtime from tools
// contributed by external configuration; External tools are additionally
// bound by the Permissions the ToolContext was constructed with.
type Origin string

const (
	OriginBuiltin  Origin = "builtin"
	OriginExternal Origin = "external"
)

// ToolContext is handed to every tool executor and is the only surface
// through which a tool may check whether an access is allowed. The hard
// baseline denies are evaluated identically regardless of Origin;
// External additionally needs an explicit permission grant.
type ToolContext struct {
	Origin      Origin
	Permissions models.Permissions
}

// New builds a ToolContext for the given origin and permission set.
// Builtin tools still receive a Permissions value (unused by their
// checks) so callers can construct both kinds uniformly.
func New(origin Origin, perms models.Permissions) *ToolContext {
	return &ToolContext{Origin: origin, Permissions: perms}
}

// CheckRead reports whether reading path is allowed.
func (c *ToolContext) CheckRead(path string) bool {
	if IsDeniedReadPath(path) {
		return false
	}
	if c.Origin == OriginBuiltin {
		return true
	}
	return matchesAnyGlob(c.Permissions.FSRead, path)
}

// CheckWrite reports whether writing path is allowed.
func (c *ToolContext) CheckWrite(path string) bool {
	if IsDeniedWritePath(path) {
		return false
	}
	if c.Origin == OriginBuiltin {
		return true
	}
	return matchesAnyGlob(c.Permissions.FSWrite, path)
}

// CheckNetwork reports whether contacting host:port is allowed.
func (c *ToolContext) CheckNetwork(host string, port int) bool {
	if IsDeniedHost(host) {
		return false
	}
	if c.Origin == OriginBuiltin {
		return true
	}
	target := hostPort(host, port)
	for _, allowed := range c.Permissions.NetworkAllow {
		if allowed == "*" {
			return true
		}
		if allowed == target || allowed == host {
			return true
		}
	}
	return false
}

// CheckExec reports whether running cmd is allowed. The hard baseline's
// destructive-pattern check runs first and cannot be overridden by any
// permission grant.
func (c *ToolContext) CheckExec(cmd string) bool {
	if IsDestructiveCommand(cmd) {
		return false
	}
	if c.Origin == OriginBuiltin {
		return true
	}
	base := CommandBasename(cmd)
	for _, allowed := range c.Permissions.Exec {
		if allowed == base {
			return true
		}
	}
	return false
}

// CheckEnv reports whether reading environment variable name is allowed.
// The hard baseline never denies environment reads outright.
func (c *ToolContext) CheckEnv(name string) bool {
	if c.Origin == OriginBuiltin {
		return true
	}
	for _, allowed := range c.Permissions.Env {
		if allowed == name {
			return true
		}
	}
	return false
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

func matchesAnyGlob(patterns []string, path string) bool {
	clean := cleanPath(path)
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		if ok, err := filepath.Match(pattern, clean); err == nil && ok {
			return true
		}
		// Allow a directory-prefix pattern like "/workspace/**" to mean
		// "anything under /workspace" since filepath.Match has no
		// recursive-wildcard concept.
		if strings.HasSuffix(pattern, "/**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}
