package logfeed

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const renderTimeLayout = "2006-01-02 15:04:05"

// Render formats rec as a single line in the given format.
func Render(rec Record, format Format) string {
	ts := rec.Timestamp.Format(renderTimeLayout)
	level := strings.ToUpper(string(rec.Level))

	switch format {
	case FormatJSON:
		data, err := json.Marshal(rec)
		if err != nil {
			return rec.Message
		}
		return string(data)
	case FormatSimple:
		return fmt.Sprintf("[%s] [%s] %s", ts, level, rec.Message)
	default:
		line := fmt.Sprintf("[%s] [%s]", ts, level)
		if rec.Type != "" {
			line += fmt.Sprintf(" [%s]", rec.Type)
		}
		line += " " + rec.Message
		if len(rec.Details) > 0 {
			if details, err := json.Marshal(rec.Details); err == nil {
				line += " " + string(details)
			}
		}
		return line
	}
}

// WriteZip writes every file of the stream into a zip archive, each rendered
// in the configured format. Rotated files are decompressed first.
func (f *Feed) WriteZip(w io.Writer, advanced bool) error {
	files, err := f.Files(advanced)
	if err != nil {
		return err
	}
	format := f.Settings().Format

	zw := zip.NewWriter(w)
	for _, file := range files {
		name := strings.TrimSuffix(file.Name, gzExt)
		entry, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create zip entry: %w", err)
		}
		if err := f.renderFile(entry, filepath.Join(f.streamDir(advanced), file.Name), file.Compressed, format); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	return nil
}

func (f *Feed) renderFile(w io.Writer, path string, compressed bool, format Format) error {
	recs, err := f.readFile(path, compressed)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := fmt.Fprintln(w, Render(rec, format)); err != nil {
			return fmt.Errorf("write zip entry: %w", err)
		}
	}
	return nil
}
