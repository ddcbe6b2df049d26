package stringutil

import (
	"regexp"

	"github.com/aig787/agpm-sub009/pkg/logger"
)

var sanitizeLog = logger.New("stringutil:sanitize")

// Regex patterns for detecting potential secret key names
var (
	// Match uppercase snake_case identifiers that look like secret names (e.g., MY_SECRET_KEY, GITHUB_TOKEN, API_KEY)
	// Excludes common workflow-related keywords
	secretNamePattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]*_[A-Z0-9_]+)\b`)

	// Match PascalCase identifiers ending with security-related suffixes (e.g., GitHubToken, ApiKey, DeploySecret)
	pascalCaseSecretPattern = regexp.MustCompile(`\b([A-Z][a-z0-9]*(?:[A-Z][a-z0-9]*)*(?:Token|Key|Secret|Password|Credential|Auth))\b`)

	// Common non-sensitive identifiers to exclude from redaction: agpm's own
	// env vars (spec.md §9) and manifest/template-var field names that
	// legitimately appear in error text without being secrets.
	nonSecretIdentifiers = map[string]bool{
		"AGPM_CACHE_DIR":   true,
		"AGPM_TEST_MODE":   true,
		"AGPM_NO_PROGRESS": true,
		"NO_COLOR":         true,
		"ENV":              true,
		"PATH":             true,
		"HOME":             true,
		"SHELL":            true,
		"SOURCE":           true,
		"VERSION":          true,
		"BRANCH":           true,
		"TEMPLATE_VARS":    true,
		"MCP_SERVERS":      true,
	}
)

// SanitizeErrorMessage removes potential secret key names from error messages
// before they reach a terminal or log, since resolved template vars and
// private-manifest patch values can carry credential-shaped names through
// render and resolver errors.
func SanitizeErrorMessage(message string) string {
	if message == "" {
		return message
	}

	sanitizeLog.Printf("Sanitizing error message: length=%d", len(message))

	// Redact uppercase snake_case patterns (e.g., MY_SECRET_KEY, API_TOKEN)
	sanitized := secretNamePattern.ReplaceAllStringFunc(message, func(match string) string {
		// Don't redact agpm's own known identifiers
		if nonSecretIdentifiers[match] {
			return match
		}
		sanitizeLog.Printf("Redacted snake_case secret pattern: %s", match)
		return "[REDACTED]"
	})

	// Redact PascalCase patterns ending with security suffixes (e.g., GitHubToken, ApiKey)
	sanitized = pascalCaseSecretPattern.ReplaceAllString(sanitized, "[REDACTED]")

	if sanitized != message {
		sanitizeLog.Print("Error message sanitization applied redactions")
	}

	return sanitized
}
