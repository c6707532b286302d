package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/xiaomao8090/kazay-website/internal/models"
	pkgauth "github.com/xiaomao8090/kazay-website/pkg/auth"
)

// MaxTrustedIPs bounds each admin's allowlist. The oldest address is dropped
// when a new one is added beyond the cap.
const MaxTrustedIPs = 20

var ErrUnknownAdmin = errors.New("unknown admin")

// dummySecret keeps unknown-user lookups doing the same comparison work.
const dummySecret = "kazay-registry-placeholder-secret"

type registryFile struct {
	Admins []models.Admin `toml:"admin"`
}

// Registry is the static set of admins plus their trusted IPs. Only the
// trusted IP lists change at runtime.
type Registry struct {
	mu     sync.RWMutex
	admins map[string]*models.Admin
	order  []string
	path   string
}

// NewRegistry builds an in-memory registry. Changes are not persisted.
func NewRegistry(admins ...models.Admin) *Registry {
	r := &Registry{admins: make(map[string]*models.Admin)}
	for _, a := range admins {
		a := a
		a.TrustedIPs = append([]string(nil), a.TrustedIPs...)
		r.admins[a.Username] = &a
		r.order = append(r.order, a.Username)
	}
	return r
}

// LoadRegistry reads admins from a TOML file of [[admin]] tables. Trusted IP
// additions are written back to the same file.
func LoadRegistry(path string) (*Registry, error) {
	var file registryFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode admin registry: %w", err)
	}
	if len(file.Admins) == 0 {
		return nil, fmt.Errorf("admin registry %s has no admins", path)
	}
	for _, a := range file.Admins {
		if a.Username == "" || a.Password == "" || a.Email == "" {
			return nil, fmt.Errorf("admin registry entry %q needs username, password and email", a.Username)
		}
	}

	r := NewRegistry(file.Admins...)
	r.path = path
	return r, nil
}

// Authenticate returns the admin when username and password match. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (r *Registry) Authenticate(username, password string) (models.Admin, bool) {
	r.mu.RLock()
	admin, ok := r.admins[username]
	var stored string
	if ok {
		stored = admin.Password
	}
	r.mu.RUnlock()

	if !ok {
		pkgauth.CheckSecret(dummySecret, password)
		return models.Admin{}, false
	}
	if !pkgauth.CheckSecret(stored, password) {
		return models.Admin{}, false
	}
	return r.snapshot(username), true
}

// Lookup returns a copy of the admin entry.
func (r *Registry) Lookup(username string) (models.Admin, bool) {
	r.mu.RLock()
	_, ok := r.admins[username]
	r.mu.RUnlock()
	if !ok {
		return models.Admin{}, false
	}
	return r.snapshot(username), true
}

// IsTrusted reports whether ip completed a verified login for username before.
func (r *Registry) IsTrusted(username, ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admin, ok := r.admins[username]
	if !ok || ip == "" {
		return false
	}
	for _, trusted := range admin.TrustedIPs {
		if trusted == ip {
			return true
		}
	}
	return false
}

// AddTrustedIP records ip for username. Adding a known address is a no-op.
func (r *Registry) AddTrustedIP(username, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	admin, ok := r.admins[username]
	if !ok {
		return ErrUnknownAdmin
	}
	for _, trusted := range admin.TrustedIPs {
		if trusted == ip {
			return nil
		}
	}

	admin.TrustedIPs = append(admin.TrustedIPs, ip)
	if len(admin.TrustedIPs) > MaxTrustedIPs {
		admin.TrustedIPs = admin.TrustedIPs[len(admin.TrustedIPs)-MaxTrustedIPs:]
	}

	return r.saveLocked()
}

// Admins lists every entry in file order.
func (r *Registry) Admins() []models.Admin {
	out := make([]models.Admin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.snapshot(name))
	}
	return out
}

func (r *Registry) snapshot(username string) models.Admin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a := *r.admins[username]
	a.TrustedIPs = append([]string(nil), a.TrustedIPs...)
	return a
}

func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}

	file := registryFile{Admins: make([]models.Admin, 0, len(r.order))}
	for _, name := range r.order {
		file.Admins = append(file.Admins, *r.admins[name])
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".admins-*.toml")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode admin registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close registry temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace admin registry: %w", err)
	}
	return nil
}
