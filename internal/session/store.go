package session

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Stats is a point-in-time view of the store.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// Store is the in-memory session registry. Entries are never persisted.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		ttl:         DefaultTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new issued session under id, evicting the least recently
// accessed fifth of the store first when it is full.
func (s *Store) Create(id string, data Session) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists && len(s.sessions) >= s.maxSessions {
		s.evictLocked()
	}

	now := s.now()
	data.ID = id
	data.State = StateIssued
	data.CodeAttempts = 0
	data.CreatedAt = now
	data.ExpiresAt = now.Add(s.ttl)
	data.LastAccessed = now
	data.UpdatedAt = now

	stored := data
	s.sessions[id] = &stored
	return stored
}

// Get returns the session for id. Sessions past their expiry are removed and
// reported as ErrNotFound even if the sweep has not reached them yet.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(id)
	if err != nil {
		return Session{}, err
	}
	sess.LastAccessed = s.now()
	return *sess, nil
}

// Update applies fn to a copy of the session and stores the result. If fn
// returns an error the stored session is left untouched.
func (s *Store) Update(id string, fn func(*Session) error) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(id)
	if err != nil {
		return Session{}, err
	}

	updated := *sess
	if err := fn(&updated); err != nil {
		return *sess, err
	}

	now := s.now()
	updated.ID = id
	updated.UpdatedAt = now
	updated.LastAccessed = now
	*sess = updated
	return updated, nil
}

// Verify checks code against the session and records the outcome, including
// failed attempts.
func (s *Store) Verify(id, code string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(id)
	if err != nil {
		return Session{}, err
	}

	verifyErr := sess.Verify(code)
	now := s.now()
	sess.UpdatedAt = now
	sess.LastAccessed = now
	return *sess, verifyErr
}

// Expire marks a session unusable without removing it.
func (s *Store) Expire(id string) error {
	_, err := s.Update(id, func(sess *Session) error {
		return sess.Expire()
	})
	return err
}

// Delete removes id. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := Stats{Total: len(s.sessions)}
	for _, sess := range s.sessions {
		if sess.ExpiresAt.After(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// Sweep deletes every expired session and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("expired sessions swept", slog.Int("removed", removed))
	}
	return removed
}

func (s *Store) liveLocked(id string) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.ExpiresAt.Before(s.now()) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Store) evictLocked() {
	n := int(float64(s.maxSessions) * 0.2)
	if n < 1 {
		n = 1
	}

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.sessions[ids[i]].LastAccessed.Before(s.sessions[ids[j]].LastAccessed)
	})

	if n > len(ids) {
		n = len(ids)
	}
	for _, id := range ids[:n] {
		delete(s.sessions, id)
	}

	s.logger.Warn("session store at capacity, evicted least recently used sessions",
		slog.Int("evicted", n),
		slog.Int("capacity", s.maxSessions),
	)
}
