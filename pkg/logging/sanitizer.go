package logging

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// MaxMessageLength caps error messages recorded on jobs.
	MaxMessageLength = 2000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens in echoed headers
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// API keys and signed-URL parameters
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?key|secret[_-]?key|x-amz-signature|x-amz-credential|token|sig)=[^;&\s]+`)

	// user:pass@host credentials inside URLs
	userInfoPattern = regexp.MustCompile(`://[^/@\s:]+:[^/@\s]+@`)
)

// sensitiveQueryKeys are dropped from asset locations before they are stored or logged.
var sensitiveQueryKeys = []string{
	"x-amz-signature", "x-amz-credential", "x-amz-security-token",
	"signature", "sig", "token", "access_token", "api_key", "apikey", "key",
}

// SanitizeLocation strips user info and signing parameters from an asset location
// so it can be persisted on a job record and written to logs.
func SanitizeLocation(location string) string {
	if location == "" {
		return ""
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return passwordPattern.ReplaceAllString(location, "${1}="+RedactedText)
	}

	u.User = nil

	q := u.Query()
	changed := false
	for k := range q {
		for _, s := range sensitiveQueryKeys {
			if strings.EqualFold(k, s) {
				q.Del(k)
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// SanitizeError renders an error message with secrets removed and the length capped.
// Use this before recording an error on a job or logging it.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage applies the same redaction as SanitizeError to free text.
func SanitizeMessage(msg string) string {
	sanitized := passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = userInfoPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
	return TruncateString(sanitized, MaxMessageLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
