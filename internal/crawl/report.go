package crawl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	successReportName = ".lastrun.success.json"
	failedReportName  = ".lastrun.failed.json"
)

type failedEntry struct {
	Symbol string `json:"symbol"`
	From   string `json:"from,omitempty"`
	Reason string `json:"reason"`
}

// runReport lists the outcome of the last run, written next to the data.
type runReport struct {
	Success []string
	Failed  []failedEntry
}

func (r *runReport) add(o outcome) {
	switch o.status {
	case statusOK:
		r.Success = appendSuccess(r.Success, o.symbol)
	case statusFailed:
		e := failedEntry{Symbol: o.symbol, Reason: o.reason}
		if !o.start.IsZero() {
			e.From = o.start.Format(time.DateTime)
		}
		r.Failed = append(r.Failed, e)
	}
}

func (r *runReport) empty() bool {
	return len(r.Success) == 0 && len(r.Failed) == 0
}

// writeRunReport replaces both report files; a list that is empty this run removes its file.
func writeRunReport(dir string, r runReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, successReportName), r.Success); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, failedReportName), r.Failed)
}

func writeJSON[T any](path string, list []T) error {
	if len(list) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func appendSuccess(list []string, symbol string) []string {
	for _, s := range list {
		if s == symbol {
			return list
		}
	}
	return append(list, symbol)
}

func joinFailedReasons(failedList []failedEntry) string {
	if len(failedList) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range failedList {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Symbol)
		b.WriteString(": ")
		b.WriteString(f.Reason)
		if i >= 4 && len(failedList) > 6 {
			b.WriteString(fmt.Sprintf(" (+%d more)", len(failedList)-5))
			break
		}
	}
	return b.String()
}
