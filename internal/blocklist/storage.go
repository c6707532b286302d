package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileStorage keeps the document as a JSON file.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the file location.
func (s *FileStorage) Path() string {
	return s.path
}

// Load reads the file. A missing file is an empty document.
func (s *FileStorage) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read blocklist: %w", err)
	}

	var doc Document
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode blocklist: %w", err)
	}
	return doc, nil
}

// Save replaces the file atomically.
func (s *FileStorage) Save(_ context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode blocklist: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blocklist dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blocklist-*.json")
	if err != nil {
		return fmt.Errorf("create temp blocklist: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write blocklist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close blocklist: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace blocklist: %w", err)
	}
	return nil
}

// RedisClient is the subset of the go-redis client used by RedisStorage.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStorage keeps the document as one JSON value under a single key.
type RedisStorage struct {
	client RedisClient
	key    string
}

func NewRedisStorage(client RedisClient, key string) *RedisStorage {
	if key == "" {
		key = "kazay:blocklist"
	}
	return &RedisStorage{client: client, key: key}
}

func (s *RedisStorage) Load(ctx context.Context) (Document, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("redis get blocklist: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode blocklist: %w", err)
	}
	return doc, nil
}

func (s *RedisStorage) Save(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode blocklist: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set blocklist: %w", err)
	}
	return nil
}

// ConnectRedis parses url, builds a client and verifies it with PING.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
