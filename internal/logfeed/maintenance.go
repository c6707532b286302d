package logfeed

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const gzExt = ".gz"

// FileInfo describes one daily file of a stream.
type FileInfo struct {
	Name       string    `json:"name"`
	Date       string    `json:"date"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	ModTime    time.Time `json:"modTime"`
}

// Files lists the stream's daily files, newest date first.
func (f *Feed) Files(advanced bool) ([]FileInfo, error) {
	entries, err := os.ReadDir(f.streamDir(advanced))
	if err != nil {
		return nil, fmt.Errorf("list log dir: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, compressed, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:       entry.Name(),
			Date:       date,
			Size:       info.Size(),
			Compressed: compressed,
			ModTime:    info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Date == files[j].Date {
			return !files[i].Compressed && files[j].Compressed
		}
		return files[i].Date > files[j].Date
	})
	return files, nil
}

func parseFileName(name string) (date string, compressed bool, ok bool) {
	if strings.HasSuffix(name, logExt+gzExt) {
		compressed = true
		name = strings.TrimSuffix(name, gzExt)
	}
	if !strings.HasSuffix(name, logExt) {
		return "", false, false
	}
	date = strings.TrimSuffix(name, logExt)
	if _, err := time.Parse(dayLayout, date); err != nil {
		return "", false, false
	}
	return date, compressed, true
}

// Clear deletes the stream's files for date, or every file when date is
// empty. It returns the number of files removed.
func (f *Feed) Clear(advanced bool, date string) (int, error) {
	if date != "" {
		if _, err := time.Parse(dayLayout, date); err != nil {
			return 0, fmt.Errorf("%w: bad date %q", ErrInvalidFilter, date)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.Files(advanced)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, file := range files {
		if date != "" && file.Date != date {
			continue
		}
		if err := os.Remove(filepath.Join(f.streamDir(advanced), file.Name)); err != nil {
			return removed, fmt.Errorf("remove log file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Rotate compresses plaintext files older than the retention period in both
// streams and removes the originals. It does nothing when rotation is
// disabled. Each new archive is handed to the Archiver when one is set.
func (f *Feed) Rotate(ctx context.Context) (int, error) {
	settings := f.Settings()
	if !settings.EnableRotation {
		return 0, nil
	}

	cutoff := startOfDay(f.now()).AddDate(0, 0, -settings.RetentionDays).Format(dayLayout)
	rotated := 0

	for _, advanced := range []bool{false, true} {
		files, err := f.Files(advanced)
		if err != nil {
			return rotated, err
		}
		for _, file := range files {
			if file.Compressed || file.Date >= cutoff {
				continue
			}

			src := filepath.Join(f.streamDir(advanced), file.Name)
			dst, err := compressFile(src)
			if err != nil {
				return rotated, err
			}
			rotated++

			if f.archiver != nil {
				if err := f.archiver.Archive(ctx, dst); err != nil {
					f.logger.Error("failed to archive rotated log",
						slog.String("path", dst),
						slog.Any("error", err),
					)
				}
			}
		}
	}

	if rotated > 0 {
		f.logger.Info("log rotation completed", slog.Int("files_rotated", rotated))
	}
	return rotated, nil
}

func compressFile(src string) (string, error) {
	dst := src + gzExt

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open log for rotation: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create rotated log: %w", err)
	}

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("compress log: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("finish compressed log: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close compressed log: %w", err)
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("remove rotated log: %w", err)
	}
	return dst, nil
}
