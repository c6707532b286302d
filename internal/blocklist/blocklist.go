// Package blocklist holds the IP deny state consulted on every request.
package blocklist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrAlreadyBlocked = errors.New("ip is already blocked")
	ErrNotBlocked     = errors.New("ip is not temporarily blocked")
	ErrInvalidIP      = errors.New("invalid ip address")
)

// Entry is a temporary block.
type Entry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Document is the durable form of the blocklist. An IP appears in at most
// one of the two lists.
type Document struct {
	Permanent []string `json:"permanent"`
	Temporary []Entry  `json:"temporary"`
}

func (d Document) clone() Document {
	out := Document{
		Permanent: make([]string, len(d.Permanent)),
		Temporary: make([]Entry, len(d.Temporary)),
	}
	copy(out.Permanent, d.Permanent)
	copy(out.Temporary, d.Temporary)
	return out
}

// Storage persists the document.
type Storage interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// Blocklist caches the stored document in memory. Every mutation updates the
// cache and writes through to storage.
type Blocklist struct {
	mu       sync.RWMutex
	doc      Document
	storage  Storage
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a Blocklist.
type Option func(*Blocklist)

func WithClock(now func() time.Time) Option {
	return func(b *Blocklist) {
		if now != nil {
			b.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Blocklist) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty blocklist. Call Reload to populate it from storage.
func New(storage Storage, opts ...Option) *Blocklist {
	b := &Blocklist{
		storage:  storage,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reload replaces the cache with the stored document. On a read failure the
// cache is emptied, so nothing is blocked until storage recovers.
func (b *Blocklist) Reload(ctx context.Context) error {
	doc, err := b.storage.Load(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.logger.Error("failed to load blocklist, treating as empty", slog.Any("error", err))
		b.doc = Document{}
		return err
	}
	b.doc = canonicalDocument(doc)
	return nil
}

// IsBlocked reports whether ip is permanently blocked or has an unexpired
// temporary block.
func (b *Blocklist) IsBlocked(ip string) bool {
	ip = canonical(ip)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, p := range b.doc.Permanent {
		if p == ip {
			return true
		}
	}

	now := b.now()
	for _, e := range b.doc.Temporary {
		if e.IP == ip && e.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// Block adds a temporary block for ip, stored in canonical form. A
// non-positive ttl means DefaultTTL. An expired temporary entry for ip is
// replaced.
func (b *Blocklist) Block(ctx context.Context, ip, reason string, ttl time.Duration) (Entry, error) {
	if err := b.validate.Var(ip, "required,ip"); err != nil {
		return Entry{}, ErrInvalidIP
	}
	ip = canonical(ip)
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, p := range b.doc.Permanent {
		if p == ip {
			return Entry{}, ErrAlreadyBlocked
		}
	}

	kept := b.doc.Temporary[:0:0]
	for _, e := range b.doc.Temporary {
		if e.IP == ip {
			if e.ExpiresAt.After(now) {
				return e, ErrAlreadyBlocked
			}
			continue
		}
		kept = append(kept, e)
	}

	entry := Entry{
		IP:        ip,
		Reason:    reason,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	}
	b.doc.Temporary = append(kept, entry)
	b.saveLocked(ctx)

	return entry, nil
}

// Unblock removes ip from the temporary list. Permanent entries are left alone.
func (b *Blocklist) Unblock(ctx context.Context, ip string) error {
	ip = canonical(ip)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.doc.Temporary[:0:0]
	found := false
	for _, e := range b.doc.Temporary {
		if e.IP == ip {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return ErrNotBlocked
	}

	b.doc.Temporary = kept
	b.saveLocked(ctx)
	return nil
}

// PruneExpired drops temporary entries whose expiry has passed.
func (b *Blocklist) PruneExpired(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	kept := b.doc.Temporary[:0:0]
	for _, e := range b.doc.Temporary {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
		}
	}

	removed := len(b.doc.Temporary) - len(kept)
	if removed > 0 {
		b.doc.Temporary = kept
		b.saveLocked(ctx)
	}
	return removed
}

// List returns a copy of the cached document.
func (b *Blocklist) List() Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.clone()
}

// saveLocked writes the cache through to storage. A failed write is logged and
// the in-memory state is kept.
func (b *Blocklist) saveLocked(ctx context.Context) {
	if err := b.storage.Save(ctx, b.doc.clone()); err != nil {
		b.logger.Error("failed to persist blocklist", slog.Any("error", err))
	}
}

// canonical maps every spelling of an address to the form ExtractClientIP
// produces. Unparseable input is returned unchanged.
func canonical(ip string) string {
	if c, ok := pkghttp.NormalizeIP(ip); ok {
		return c
	}
	return ip
}

// canonicalDocument rewrites hand-edited entries and merges any that collapse
// to the same address.
func canonicalDocument(doc Document) Document {
	out := Document{}
	seen := make(map[string]bool, len(doc.Permanent))
	for _, p := range doc.Permanent {
		p = canonical(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out.Permanent = append(out.Permanent, p)
	}

	index := make(map[string]int, len(doc.Temporary))
	for _, e := range doc.Temporary {
		e.IP = canonical(e.IP)
		if seen[e.IP] {
			continue
		}
		if i, ok := index[e.IP]; ok {
			if e.ExpiresAt.After(out.Temporary[i].ExpiresAt) {
				out.Temporary[i] = e
			}
			continue
		}
		index[e.IP] = len(out.Temporary)
		out.Temporary = append(out.Temporary, e)
	}
	return out
}
