package logfeed

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Date specifiers accepted by Filter.Date. Any other non-empty value is
// rejected; use StartDate/EndDate for explicit ranges.
const (
	DateToday      = "today"
	DateYesterday  = "yesterday"
	DateLast7Days  = "last7days"
	DateLast30Days = "last30days"
)

// Filter selects records. Zero values match everything; Date defaults to today.
type Filter struct {
	Date      string
	StartDate string
	EndDate   string
	Level     string
	Type      string
	Search    string
	// Since drops records older than this instant.
	Since time.Time
}

// Query reads the daily files the filter covers and returns matching records,
// newest first.
func (f *Feed) Query(advanced bool, filter Filter) ([]Record, error) {
	days, err := resolveDays(filter, f.now())
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)
	var out []Record
	for _, day := range days {
		recs, err := f.readDay(advanced, day)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if matches(rec, advanced, filter, search) {
				out = append(out, rec)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func matches(rec Record, advanced bool, filter Filter, search string) bool {
	if filter.Level != "" && filter.Level != "all" && string(rec.Level) != filter.Level {
		return false
	}
	if advanced && filter.Type != "" && filter.Type != "all" && string(rec.Type) != filter.Type {
		return false
	}
	if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
		return false
	}
	if search != "" && !strings.Contains(strings.ToLower(searchText(rec)), search) {
		return false
	}
	return true
}

func searchText(rec Record) string {
	if len(rec.Details) == 0 {
		return rec.Message
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return rec.Message
	}
	return rec.Message + " " + string(details)
}

func resolveDays(filter Filter, now time.Time) ([]time.Time, error) {
	today := startOfDay(now)

	if filter.StartDate != "" || filter.EndDate != "" {
		start, err := parseDay(filter.StartDate, today, now.Location())
		if err != nil {
			return nil, err
		}
		end, err := parseDay(filter.EndDate, today, now.Location())
		if err != nil {
			return nil, err
		}
		if end.Before(start) {
			return nil, fmt.Errorf("%w: end date before start date", ErrInvalidFilter)
		}
		return daysBetween(start, end), nil
	}

	switch filter.Date {
	case "", DateToday:
		return []time.Time{today}, nil
	case DateYesterday:
		return []time.Time{today.AddDate(0, 0, -1)}, nil
	case DateLast7Days:
		return daysBetween(today.AddDate(0, 0, -6), today), nil
	case DateLast30Days:
		return daysBetween(today.AddDate(0, 0, -29), today), nil
	default:
		return nil, fmt.Errorf("%w: unknown date %q", ErrInvalidFilter, filter.Date)
	}
}

func parseDay(value string, fallback time.Time, loc *time.Location) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	day, err := time.ParseInLocation(dayLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidFilter, value)
	}
	return day, nil
}

func daysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// readDay parses one daily file, falling back to its rotated .gz form. A
// missing day yields no records.
func (f *Feed) readDay(advanced bool, day time.Time) ([]Record, error) {
	path := f.dayPath(advanced, day)
	recs, err := f.readFile(path, false)
	if errors.Is(err, os.ErrNotExist) {
		recs, err = f.readFile(path+gzExt, true)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	return recs, err
}

// readFile decodes every record in a plain or gzipped stream file. Lines that
// do not decode, such as a torn final write, are skipped.
func (f *Feed) readFile(path string, compressed bool) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if compressed {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open compressed log: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var (
		recs    []Record
		skipped int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	if skipped > 0 {
		f.logger.Warn("skipped malformed log lines", slog.String("path", path), slog.Int("lines", skipped))
	}
	return recs, nil
}
