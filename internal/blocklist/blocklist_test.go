package blocklist_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaomao8090/kazay-website/internal/blocklist"
)

type MockStorage struct {
	mu       sync.Mutex
	doc      blocklist.Document
	saves    int
	LoadFunc func(ctx context.Context) (blocklist.Document, error)
	SaveFunc func(ctx context.Context, doc blocklist.Document) error
}

func (m *MockStorage) Load(ctx context.Context) (blocklist.Document, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, nil
}

func (m *MockStorage) Save(ctx context.Context, doc blocklist.Document) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, doc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc
	m.saves++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestBlock_AddsTemporaryEntry(t *testing.T) {
	clock := newClock()
	storage := &MockStorage{}
	list := blocklist.New(storage, blocklist.WithClock(clock.Now))

	entry, err := list.Block(context.Background(), "9.9.9.9", "manual", 0)

	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", entry.IP)
	assert.Equal(t, "manual", entry.Reason)
	assert.Equal(t, clock.Now().Add(24*time.Hour), entry.ExpiresAt)
	assert.True(t, list.IsBlocked("9.9.9.9"))
	assert.False(t, list.IsBlocked("8.8.8.8"))
	assert.Equal(t, 1, storage.saves)
	assert.Len(t, storage.doc.Temporary, 1)
}

func TestBlock_IsIdempotent(t *testing.T) {
	list := blocklist.New(&MockStorage{})
	ctx := context.Background()

	_, err := list.Block(ctx, "9.9.9.9", "first", time.Hour)
	require.NoError(t, err)

	_, err = list.Block(ctx, "9.9.9.9", "second", time.Hour)
	assert.ErrorIs(t, err, blocklist.ErrAlreadyBlocked)
	assert.Len(t, list.List().Temporary, 1)
	assert.Equal(t, "first", list.List().Temporary[0].Reason)
}

func TestBlock_PermanentCountsAsBlocked(t *testing.T) {
	storage := &MockStorage{doc: blocklist.Document{Permanent: []string{"7.7.7.7"}}}
	list := blocklist.New(storage)
	require.NoError(t, list.Reload(context.Background()))

	assert.True(t, list.IsBlocked("7.7.7.7"))

	_, err := list.Block(context.Background(), "7.7.7.7", "dup", 0)
	assert.ErrorIs(t, err, blocklist.ErrAlreadyBlocked)
	assert.Empty(t, list.List().Temporary)
}

func TestBlock_RejectsInvalidIP(t *testing.T) {
	list := blocklist.New(&MockStorage{})

	for _, ip := range []string{"", "not-an-ip", "999.1.1.1"} {
		_, err := list.Block(context.Background(), ip, "x", 0)
		assert.ErrorIs(t, err, blocklist.ErrInvalidIP, ip)
	}

	_, err := list.Block(context.Background(), "2001:db8::1", "v6", 0)
	assert.NoError(t, err)
}

func TestIsBlocked_ExpiredEntryDoesNotBlock(t *testing.T) {
	clock := newClock()
	list := blocklist.New(&MockStorage{}, blocklist.WithClock(clock.Now))

	_, err := list.Block(context.Background(), "9.9.9.9", "x", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.False(t, list.IsBlocked("9.9.9.9"))

	// An expired entry is replaced rather than reported as already blocked.
	entry, err := list.Block(context.Background(), "9.9.9.9", "again", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "again", entry.Reason)
	assert.Len(t, list.List().Temporary, 1)
}

func TestUnblock(t *testing.T) {
	storage := &MockStorage{doc: blocklist.Document{Permanent: []string{"7.7.7.7"}}}
	list := blocklist.New(storage)
	ctx := context.Background()
	require.NoError(t, list.Reload(ctx))

	_, err := list.Block(ctx, "9.9.9.9", "x", 0)
	require.NoError(t, err)

	require.NoError(t, list.Unblock(ctx, "9.9.9.9"))
	assert.False(t, list.IsBlocked("9.9.9.9"))

	assert.ErrorIs(t, list.Unblock(ctx, "9.9.9.9"), blocklist.ErrNotBlocked)
	assert.ErrorIs(t, list.Unblock(ctx, "7.7.7.7"), blocklist.ErrNotBlocked)
	assert.True(t, list.IsBlocked("7.7.7.7"), "permanent entries survive unblock")
}

func TestPruneExpired(t *testing.T) {
	clock := newClock()
	storage := &MockStorage{}
	list := blocklist.New(storage, blocklist.WithClock(clock.Now))
	ctx := context.Background()

	_, err := list.Block(ctx, "1.1.1.1", "short", time.Hour)
	require.NoError(t, err)
	_, err = list.Block(ctx, "2.2.2.2", "long", 48*time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, list.PruneExpired(ctx))
	assert.Equal(t, 0, list.PruneExpired(ctx))

	doc := list.List()
	require.Len(t, doc.Temporary, 1)
	assert.Equal(t, "2.2.2.2", doc.Temporary[0].IP)
	assert.Len(t, storage.doc.Temporary, 1)
}

func TestBlock_StoresCanonicalForm(t *testing.T) {
	tests := []struct {
		entered string
		client  string
	}{
		{"::ffff:9.9.9.9", "9.9.9.9"},
		{"2001:DB8::1", "2001:db8::1"},
		{"2001:db8:0:0:0:0:0:1", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.entered, func(t *testing.T) {
			list := blocklist.New(&MockStorage{})

			entry, err := list.Block(context.Background(), tt.entered, "manual", time.Hour)
			require.NoError(t, err)

			assert.Equal(t, tt.client, entry.IP)
			assert.True(t, list.IsBlocked(tt.client))
			assert.True(t, list.IsBlocked(tt.entered))
		})
	}
}

func TestBlock_DuplicateAcrossForms(t *testing.T) {
	list := blocklist.New(&MockStorage{})
	ctx := context.Background()

	_, err := list.Block(ctx, "2001:db8::1", "first", time.Hour)
	require.NoError(t, err)

	_, err = list.Block(ctx, "2001:DB8:0:0:0:0:0:1", "second", time.Hour)
	assert.ErrorIs(t, err, blocklist.ErrAlreadyBlocked)

	_, err = list.Block(ctx, "9.9.9.9", "first", time.Hour)
	require.NoError(t, err)
	_, err = list.Block(ctx, "::ffff:9.9.9.9", "second", time.Hour)
	assert.ErrorIs(t, err, blocklist.ErrAlreadyBlocked)

	assert.Len(t, list.List().Temporary, 2)
}

func TestUnblock_AcceptsAnyForm(t *testing.T) {
	list := blocklist.New(&MockStorage{})
	ctx := context.Background()

	_, err := list.Block(ctx, "9.9.9.9", "manual", time.Hour)
	require.NoError(t, err)

	require.NoError(t, list.Unblock(ctx, "::ffff:9.9.9.9"))
	assert.False(t, list.IsBlocked("9.9.9.9"))
}

func TestReload_CanonicalizesHandEditedEntries(t *testing.T) {
	clock := newClock()
	storage := &MockStorage{doc: blocklist.Document{
		Permanent: []string{"2001:DB8::7", "2001:db8::7"},
		Temporary: []blocklist.Entry{
			{IP: "::ffff:8.8.8.8", ExpiresAt: clock.Now().Add(time.Hour)},
			{IP: "8.8.8.8", ExpiresAt: clock.Now().Add(2 * time.Hour)},
		},
	}}
	list := blocklist.New(storage, blocklist.WithClock(clock.Now))
	require.NoError(t, list.Reload(context.Background()))

	doc := list.List()
	assert.Equal(t, []string{"2001:db8::7"}, doc.Permanent)
	require.Len(t, doc.Temporary, 1)
	assert.Equal(t, "8.8.8.8", doc.Temporary[0].IP)
	assert.Equal(t, clock.Now().Add(2*time.Hour), doc.Temporary[0].ExpiresAt)
	assert.True(t, list.IsBlocked("2001:db8::7"))
}

func TestReload_FailureMeansNothingBlocked(t *testing.T) {
	storage := &MockStorage{doc: blocklist.Document{Permanent: []string{"7.7.7.7"}}}
	list := blocklist.New(storage)
	require.NoError(t, list.Reload(context.Background()))
	require.True(t, list.IsBlocked("7.7.7.7"))

	storage.LoadFunc = func(ctx context.Context) (blocklist.Document, error) {
		return blocklist.Document{}, assert.AnError
	}

	assert.Error(t, list.Reload(context.Background()))
	assert.False(t, list.IsBlocked("7.7.7.7"))
}

func TestBlock_SaveFailureKeepsMemoryState(t *testing.T) {
	storage := &MockStorage{
		SaveFunc: func(ctx context.Context, doc blocklist.Document) error {
			return assert.AnError
		},
	}
	list := blocklist.New(storage)

	_, err := list.Block(context.Background(), "9.9.9.9", "x", 0)
	require.NoError(t, err)
	assert.True(t, list.IsBlocked("9.9.9.9"))
}

func TestList_ReturnsCopy(t *testing.T) {
	list := blocklist.New(&MockStorage{})
	_, err := list.Block(context.Background(), "9.9.9.9", "x", 0)
	require.NoError(t, err)

	doc := list.List()
	doc.Temporary[0].IP = "changed"

	assert.True(t, list.IsBlocked("9.9.9.9"))
}

func TestFileStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "blacklist.json")
	storage := blocklist.NewFileStorage(path)
	ctx := context.Background()

	doc, err := storage.Load(ctx)
	require.NoError(t, err, "missing file is an empty document")
	assert.Empty(t, doc.Temporary)

	list := blocklist.New(storage)
	_, err = list.Block(ctx, "9.9.9.9", "manual", time.Hour)
	require.NoError(t, err)

	reopened := blocklist.New(storage)
	require.NoError(t, reopened.Reload(ctx))
	assert.True(t, reopened.IsBlocked("9.9.9.9"))
}

func TestFileStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := blocklist.NewFileStorage(path).Load(context.Background())
	assert.Error(t, err)
}

type fakeRedis struct {
	data map[string]string
	err  error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStorage_RoundTrip(t *testing.T) {
	client := &fakeRedis{data: map[string]string{}}
	storage := blocklist.NewRedisStorage(client, "")
	ctx := context.Background()

	doc, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Permanent)

	list := blocklist.New(storage)
	_, err = list.Block(ctx, "9.9.9.9", "manual", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, client.data, "kazay:blocklist")

	reopened := blocklist.New(storage)
	require.NoError(t, reopened.Reload(ctx))
	assert.True(t, reopened.IsBlocked("9.9.9.9"))
}

func TestRedisStorage_Error(t *testing.T) {
	storage := blocklist.NewRedisStorage(&fakeRedis{err: assert.AnError}, "k")

	_, err := storage.Load(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, storage.Save(context.Background(), blocklist.Document{}), assert.AnError)
}

func TestWatcher_ReloadsOnExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	storage := blocklist.NewFileStorage(path)
	list := blocklist.New(storage)
	require.NoError(t, list.Reload(context.Background()))

	w, err := blocklist.NewWatcher(list, path, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	external := blocklist.NewFileStorage(path)
	require.NoError(t, external.Save(context.Background(), blocklist.Document{Permanent: []string{"6.6.6.6"}}))

	assert.Eventually(t, func() bool {
		return list.IsBlocked("6.6.6.6")
	}, 3*time.Second, 20*time.Millisecond)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
