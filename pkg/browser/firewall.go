package browser

import (
	"net/url"
	"strings"
)

// Firewall matches navigation destinations against allow/deny lists. The
// deny list always wins; a non-empty allow list restricts navigation to its
// entries. Patterns match host+path with '*' wildcards, e.g. "example.com",
// "*.google.com", "github.com/corp/*".
type Firewall struct {
	Enabled   bool
	AllowList []string
	DenyList  []string
}

// Check returns a FirewallError when rawURL may not be visited.
func (f Firewall) Check(rawURL string) error {
	if f.Allows(rawURL) {
		return nil
	}
	return &FirewallError{URL: rawURL}
}

// Allows reports whether navigation to rawURL is permitted.
func (f Firewall) Allows(rawURL string) bool {
	if !f.Enabled {
		return true
	}
	// Internal pages stay reachable regardless of lists.
	if strings.HasPrefix(rawURL, "about:") || strings.HasPrefix(rawURL, "chrome:") {
		return true
	}

	hostPath := normalizeURL(rawURL)
	if hostPath == "" {
		// Unparseable destinations are denied while the firewall is on.
		return false
	}

	for _, pattern := range f.DenyList {
		if matchPattern(pattern, hostPath) {
			return false
		}
	}
	if len(f.AllowList) == 0 {
		return true
	}
	for _, pattern := range f.AllowList {
		if matchPattern(pattern, hostPath) {
			return true
		}
	}
	return false
}

// normalizeURL reduces a URL to lowercase host+path without scheme, port,
// query, or fragment.
func normalizeURL(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	path := strings.TrimSuffix(u.Path, "/")
	return host + path
}

// matchPattern matches a glob-ish pattern against host+path. A pattern
// without a path component matches any path under its host.
func matchPattern(pattern, hostPath string) bool {
	pattern = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(pattern), "/"))
	if pattern == "" {
		return false
	}
	// Strip a scheme if the pattern carries one.
	if i := strings.Index(pattern, "://"); i >= 0 {
		pattern = pattern[i+3:]
	}

	if !strings.Contains(pattern, "/") {
		// Host-only pattern: match the host exactly (with wildcards) and
		// any path beneath it.
		host := hostPath
		if i := strings.Index(hostPath, "/"); i >= 0 {
			host = hostPath[:i]
		}
		return wildcardMatch(pattern, host)
	}
	if strings.HasSuffix(pattern, "/*") {
		// Prefix pattern: "host/base/*" covers "host/base" itself too.
		base := strings.TrimSuffix(pattern, "/*")
		if wildcardMatch(base, hostPath) {
			return true
		}
	}
	return wildcardMatch(pattern, hostPath)
}

// wildcardMatch matches s against pattern where '*' spans any run of
// characters.
func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}

	last := parts[len(parts)-1]
	return strings.HasSuffix(s, last)
}
