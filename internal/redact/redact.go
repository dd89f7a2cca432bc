// Package redact strips credentials and connection details from strings
// before they reach logs or error responses. Storage backends surface their
// configuration in error messages (S3 keys, bucket URLs, database DSNs), so
// every error logged by the API layer passes through here first.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedCredential = "[REDACTED_CREDENTIAL]"
	RedactedKey        = "[REDACTED_KEY]"
	RedactedHost       = "[REDACTED_HOST]"
)

var (
	// Database and object store connection strings with inline credentials.
	connStringRegex = regexp.MustCompile(`(?i)(postgres|postgresql|s3|https?)://[^@\s]+@`)

	// Key-value style secrets.
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|secret)([=:\s]['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(`(?i)(api[_-]?key|token|access[_-]?key|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`)

	// AWS access key IDs.
	awsKeyRegex = regexp.MustCompile(`\bAKIA[A-Z0-9]{12,}\b`)

	// Bearer tokens in the standard three-part JWT shape.
	jwtRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	// Hostnames with ports, as found in endpoint URLs and DSNs.
	hostPortRegex = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}:\d{1,5}\b`)

	placeholders = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{connStringRegex, RedactedCredential},
		{passwordRegex, RedactedCredential},
		{apiKeyRegex, RedactedKey},
		{awsKeyRegex, RedactedKey},
		{jwtRegex, "[REDACTED_JWT]"},
		{hostPortRegex, RedactedHost},
	}
)

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, p := range placeholders {
		result = p.pattern.ReplaceAllString(result, p.placeholder)
	}

	return result
}

// Error redacts sensitive information from an error's message.
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
