package crawl

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds the counters of one DownloadAll run. The fields are final once
// DownloadAll returns; use Stats while a run is in progress.
type Session struct {
	RunID          string
	Processed      int
	Skipped        int
	BarsDownloaded int // newly fetched bars, not merged totals
	Errors         int
	FailedSymbols  []string
	StartTime      time.Time
	EndTime        time.Time

	mu sync.Mutex
}

// Stats is a point-in-time copy of a Session's counters.
type Stats struct {
	Processed      int
	Skipped        int
	BarsDownloaded int
	Errors         int
	FailedSymbols  []string
}

func newSession(now time.Time) *Session {
	return &Session{RunID: uuid.NewString(), StartTime: now}
}

func (s *Session) record(o outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch o.status {
	case statusOK:
		s.Processed++
		s.BarsDownloaded += o.newBars
	case statusSkipped:
		s.Skipped++
	case statusFailed:
		s.Errors++
		s.FailedSymbols = append(s.FailedSymbols, o.symbol)
	}
}

func (s *Session) finish(now time.Time) {
	s.mu.Lock()
	s.EndTime = now
	s.mu.Unlock()
}

// Stats snapshots the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Processed:      s.Processed,
		Skipped:        s.Skipped,
		BarsDownloaded: s.BarsDownloaded,
		Errors:         s.Errors,
		FailedSymbols:  append([]string(nil), s.FailedSymbols...),
	}
}

// Elapsed is the run duration, measured to now while the run is in progress.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	end := s.EndTime
	s.mu.Unlock()
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime)
}
