package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// State is the position of a login attempt in the verification flow.
type State int

const (
	StateIssued State = iota
	StateVerified
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateVerified:
		return "verified"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateExpired
}

const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxSessions = 1000
	// MaxCodeAttempts wrong codes move a session to StateExpired.
	MaxCodeAttempts = 5

	idLength = 32
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("session is in a terminal state")
	ErrCodeMismatch      = errors.New("verification code mismatch")
	ErrTokenGeneration   = errors.New("failed to generate session id")
)

// Session binds one login attempt to its pending or completed verification.
type Session struct {
	ID           string
	Username     string
	Code         string
	State        State
	IP           string
	UserAgent    string
	Email        string
	CodeAttempts int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
	UpdatedAt    time.Time
}

// Verified reports whether the session completed the code step.
func (s *Session) Verified() bool {
	return s.State == StateVerified
}

// Verify moves an issued session to StateVerified when code matches exactly.
// A mismatch counts against MaxCodeAttempts.
func (s *Session) Verify(code string) error {
	if s.State.Terminal() {
		return ErrInvalidTransition
	}

	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.Code)) != 1 {
		s.CodeAttempts++
		if s.CodeAttempts >= MaxCodeAttempts {
			s.State = StateExpired
		}
		return ErrCodeMismatch
	}

	s.State = StateVerified
	s.Code = ""
	return nil
}

// Expire moves an issued session to StateExpired.
func (s *Session) Expire() error {
	if s.State.Terminal() {
		return ErrInvalidTransition
	}
	s.State = StateExpired
	return nil
}

// NewID returns an opaque, URL-safe session identifier.
func NewID() (string, error) {
	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
