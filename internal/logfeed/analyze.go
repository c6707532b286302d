package logfeed

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

const topErrorLimit = 10

// ErrorCount is one entry of the most frequent error messages.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Analysis summarizes the advanced stream over the last 30 days.
type Analysis struct {
	Counts       map[Level]int  `json:"counts"`
	CommonErrors []ErrorCount   `json:"commonErrors"`
	AccessByDate map[string]int `json:"accessByDate"`
	AccessByHour map[string]int `json:"accessByHour"`
}

// Analyze computes level counts, the ten most frequent error messages and
// access counts by date and by hour of day.
func (f *Feed) Analyze() (*Analysis, error) {
	recs, err := f.Query(true, Filter{Date: DateLast30Days})
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Counts: map[Level]int{
			LevelError:   0,
			LevelWarning: 0,
			LevelInfo:    0,
			LevelSuccess: 0,
		},
		CommonErrors: []ErrorCount{},
		AccessByDate: map[string]int{},
		AccessByHour: map[string]int{},
	}

	errorMessages := map[string]int{}
	for _, rec := range recs {
		if _, ok := a.Counts[rec.Level]; ok {
			a.Counts[rec.Level]++
		}
		if rec.Level == LevelError {
			errorMessages[strings.TrimSpace(rec.Message)]++
		}
		if rec.Type == TypeAccess {
			local := rec.Timestamp.In(f.now().Location())
			a.AccessByDate[local.Format(dayLayout)]++
			a.AccessByHour[local.Format("15")]++
		}
	}

	for msg, n := range errorMessages {
		a.CommonErrors = append(a.CommonErrors, ErrorCount{Message: msg, Count: n})
	}
	sort.Slice(a.CommonErrors, func(i, j int) bool {
		if a.CommonErrors[i].Count == a.CommonErrors[j].Count {
			return a.CommonErrors[i].Message < a.CommonErrors[j].Message
		}
		return a.CommonErrors[i].Count > a.CommonErrors[j].Count
	})
	if len(a.CommonErrors) > topErrorLimit {
		a.CommonErrors = a.CommonErrors[:topErrorLimit]
	}

	return a, nil
}

// WriteReport renders a as a plain-text report.
func WriteReport(w io.Writer, a *Analysis) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "# Log analysis report")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "## Level counts")
	for _, level := range []Level{LevelError, LevelWarning, LevelInfo, LevelSuccess} {
		fmt.Fprintf(bw, "- %s: %d\n", level, a.Counts[level])
	}
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "## Most frequent errors")
	if len(a.CommonErrors) == 0 {
		fmt.Fprintln(bw, "no errors recorded")
	}
	for i, e := range a.CommonErrors {
		fmt.Fprintf(bw, "%d. %s (%d)\n", i+1, e.Message, e.Count)
	}
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "## Access by date")
	writeCounts(bw, a.AccessByDate, "")
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "## Access by hour")
	writeCounts(bw, a.AccessByHour, ":00")

	return bw.Flush()
}

func writeCounts(w io.Writer, counts map[string]int, suffix string) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "no access records")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "- %s%s: %d\n", k, suffix, counts[k])
	}
}
