package utils

import (
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that must never reach logs or
// user-visible event details.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|auth)\s*[:=]\s*['"]?([a-zA-Z0-9_\-+/=]{8,})['"]?`),
	regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_\-+/=]{20,})`),
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(x-api-key:\s*)([a-zA-Z0-9_\-+/=]{8,})`),
}

// SanitizeLog removes sensitive values from a message while keeping key
// names readable.
func SanitizeLog(message string) string {
	result := message
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if parts := strings.SplitN(match, ":", 2); len(parts) == 2 {
				return parts[0] + ": ***REDACTED***"
			}
			if strings.Contains(strings.ToLower(match), "sk-") {
				return "sk-***REDACTED***"
			}
			return "***REDACTED***"
		})
	}
	return result
}
