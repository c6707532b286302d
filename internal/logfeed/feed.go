// Package logfeed writes the normal and advanced event streams as JSON lines,
// one file per day, and answers queries and aggregate reports over them.
package logfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
	LevelDebug   Level = "debug"
	LevelSuccess Level = "success"
)

// Success is as verbose as info. Debug is the most verbose.
var levelRank = map[Level]int{
	LevelError:   0,
	LevelWarning: 1,
	LevelInfo:    2,
	LevelSuccess: 2,
	LevelDebug:   3,
}

func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

type Type string

const (
	TypeSystem   Type = "system"
	TypeSecurity Type = "security"
	TypeAccess   Type = "access"
	TypeError    Type = "error"
)

type Format string

const (
	FormatSimple   Format = "simple"
	FormatDetailed Format = "detailed"
	FormatJSON     Format = "json"
)

func (f Format) Valid() bool {
	return f == FormatSimple || f == FormatDetailed || f == FormatJSON
}

const (
	normalDir   = "normal"
	advancedDir = "advanced"
	dayLayout   = "2006-01-02"
	logExt      = ".log"
)

var (
	ErrInvalidSettings = errors.New("invalid log settings")
	ErrInvalidFilter   = errors.New("invalid log filter")
)

// Settings controls what is written and how long it is kept.
type Settings struct {
	EnableNormal   bool   `json:"enableNormalLog"`
	EnableAdvanced bool   `json:"enableAdvancedLog"`
	Level          Level  `json:"logLevel"`
	RetentionDays  int    `json:"logRetention"`
	EnableRotation bool   `json:"enableLogRotation"`
	Format         Format `json:"logFormat"`
}

func DefaultSettings() Settings {
	return Settings{
		EnableNormal:   true,
		EnableAdvanced: true,
		Level:          LevelInfo,
		RetentionDays:  30,
		EnableRotation: true,
		Format:         FormatDetailed,
	}
}

func (s Settings) Validate() error {
	if !s.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidSettings, s.Level)
	}
	if !s.Format.Valid() {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidSettings, s.Format)
	}
	if s.RetentionDays < 1 {
		return fmt.Errorf("%w: retention must be at least one day", ErrInvalidSettings)
	}
	return nil
}

// Record is one line of a stream. Records are never modified once written.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Type      Type           `json:"type,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Archiver receives each compressed file produced by Rotate.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// Feed owns both streams under one root directory.
type Feed struct {
	mu           sync.Mutex
	root         string
	settings     Settings
	settingsPath string
	archiver     Archiver
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Feed)

func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithSettingsFile persists settings changes to path and loads it on start.
func WithSettingsFile(path string) Option {
	return func(f *Feed) {
		f.settingsPath = path
	}
}

func WithArchiver(a Archiver) Option {
	return func(f *Feed) {
		f.archiver = a
	}
}

func WithSettings(s Settings) Option {
	return func(f *Feed) {
		f.settings = s
	}
}

// New creates the stream directories under root.
func New(root string, opts ...Option) (*Feed, error) {
	f := &Feed{
		root:     root,
		settings: DefaultSettings(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, dir := range []string{normalDir, advancedDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	if f.settingsPath != "" {
		if err := f.loadSettings(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Settings returns the active settings.
func (f *Feed) Settings() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

// UpdateSettings validates and applies s, persisting it when a settings file
// is configured.
func (f *Feed) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()

	if f.settingsPath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.settingsPath), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(f.settingsPath, data, 0o644); err != nil {
		return fmt.Errorf("write log settings: %w", err)
	}
	return nil
}

func (f *Feed) loadSettings() error {
	data, err := os.ReadFile(f.settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read log settings: %w", err)
	}

	s := f.settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode log settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	f.settings = s
	return nil
}

// Log appends a record to the normal stream.
func (f *Feed) Log(level Level, message string) {
	f.write(false, Record{Level: level, Message: message})
}

// Advanced appends a typed record with optional details to the advanced stream.
func (f *Feed) Advanced(typ Type, level Level, message string, details map[string]any) {
	f.write(true, Record{Level: level, Type: typ, Message: message, Details: details})
}

func (f *Feed) Security(level Level, message string, details map[string]any) {
	f.Advanced(TypeSecurity, level, message, details)
}

func (f *Feed) System(level Level, message string, details map[string]any) {
	f.Advanced(TypeSystem, level, message, details)
}

func (f *Feed) Access(message string, details map[string]any) {
	f.Advanced(TypeAccess, LevelInfo, message, details)
}

func (f *Feed) write(advanced bool, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	enabled := f.settings.EnableNormal
	if advanced {
		enabled = f.settings.EnableAdvanced
	}
	if !enabled || !shouldLog(f.settings.Level, rec.Level) {
		return
	}

	rec.Timestamp = f.now()
	line, err := json.Marshal(rec)
	if err != nil {
		f.logger.Error("failed to encode log record", slog.Any("error", err))
		return
	}
	line = append(line, '\n')

	path := f.dayPath(advanced, rec.Timestamp)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		f.logger.Error("failed to open log file", slog.String("path", path), slog.Any("error", err))
		return
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		f.logger.Error("failed to write log record", slog.String("path", path), slog.Any("error", err))
	}
}

func shouldLog(min, level Level) bool {
	target, ok := levelRank[level]
	if !ok {
		return false
	}
	return target <= levelRank[min]
}

func (f *Feed) streamDir(advanced bool) string {
	if advanced {
		return filepath.Join(f.root, advancedDir)
	}
	return filepath.Join(f.root, normalDir)
}

func (f *Feed) dayPath(advanced bool, day time.Time) string {
	return filepath.Join(f.streamDir(advanced), day.Format(dayLayout)+logExt)
}
