package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging, e.g. "a****@*****.com".
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	local = local[:1] + strings.Repeat("*", len(local)-1)

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return local + "@" + strings.Join(labels, ".")
}

// MaskCode keeps only the first digit of a verification code.
func MaskCode(code string) string {
	if code == "" {
		return ""
	}
	return code[:1] + strings.Repeat("*", len(code)-1)
}

var sensitiveParams = []string{
	"password",
	"code",
	"token",
	"secret",
	"session",
	"email",
}

// SensitiveQuery reports whether a raw query string names a parameter that
// must not reach the logs.
func SensitiveQuery(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
