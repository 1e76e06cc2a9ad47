package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// denyPathSuffixes are directory names, relative to the user's home
// directory, under which the hard baseline never allows reading
// regardless of origin or permissions.
var denyPathSuffixes = []string{
	".ssh",
	".aws",
	".gnupg",
}

// denyAbsoluteReadPaths are exact system files whose contents are never
// readable through a tool.
var denyAbsoluteReadPaths = []string{
	"/etc/shadow",
}

// denyAbsoluteWritePaths are exact system files that may never be
// written through a tool, even though they may be read (e.g. /etc/passwd
// is world-readable but its integrity is load-bearing for every account
// on the host).
var denyAbsoluteWritePaths = []string{
	"/etc/passwd",
}

// authFileSuffixes matches auth-material files wherever they appear, not
// just under the home directory (e.g. checked-out repo secrets).
var authFileSuffixes = []string{
	"id_rsa", "id_ed25519", "id_ecdsa", "id_dsa",
	".pem", ".pfx", ".p12",
	"authorized_keys", "known_hosts",
	".netrc",
}

// IsDeniedReadPath reports whether path is denied for reads under the
// hard baseline.
func IsDeniedReadPath(path string) bool {
	clean := cleanPath(path)
	if matchesHomeDenySuffix(clean) {
		return true
	}
	for _, p := range denyAbsoluteReadPaths {
		if clean == p {
			return true
		}
	}
	return matchesAuthFileSuffix(clean)
}

// IsDeniedWritePath reports whether path is denied for writes under the
// hard baseline.
func IsDeniedWritePath(path string) bool {
	clean := cleanPath(path)
	if matchesHomeDenySuffix(clean) {
		return true
	}
	for _, p := range denyAbsoluteWritePaths {
		if clean == p {
			return true
		}
	}
	return matchesAuthFileSuffix(clean)
}

func cleanPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

func matchesHomeDenySuffix(clean string) bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	for _, suffix := range denyPathSuffixes {
		denied := filepath.Join(home, suffix)
		if clean == denied || strings.HasPrefix(clean, denied+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func matchesAuthFileSuffix(clean string) bool {
	base := strings.ToLower(filepath.Base(clean))
	for _, suffix := range authFileSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}
