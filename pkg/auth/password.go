package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "weak password: " + strings.Join(e.Errors, ", ")
}

var commonPasswords = map[string]bool{
	"password":    true,
	"12345678":    true,
	"qwerty":      true,
	"abc123":      true,
	"password123": true,
	"123456":      true,
	"admin":       true,
	"admin123":    true,
	"letmein":     true,
	"welcome":     true,
	"changeme":    true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// IsHash reports whether stored looks like a bcrypt hash.
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// CheckSecret compares a submitted password against a registry secret, which
// may be a bcrypt hash or a plain shared secret.
func CheckSecret(stored, submitted string) bool {
	if stored == "" || submitted == "" {
		return false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(submitted)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// ValidatePassword checks a plain shared secret for minimum strength.
func ValidatePassword(password string) error {
	var problems []string

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		problems = append(problems, "must mix upper case, lower case and digits")
	}

	if commonPasswords[strings.ToLower(password)] {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}
