package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims is the payload of the long-lived admin credential granted after
// a verified login.
type AdminClaims struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Admin is a registry entry. Password is either a plain shared secret or a
// bcrypt hash.
type Admin struct {
	Username   string   `toml:"username" json:"username"`
	Password   string   `toml:"password" json:"-"`
	Email      string   `toml:"email" json:"email"`
	TrustedIPs []string `toml:"trusted_ips" json:"trusted_ips"`
}
