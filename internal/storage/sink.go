// Package storage persists flush records to an append-only log file.
package storage

import (
	"fmt"
	"os"
	"sync"
	"time"

	"spreadbot/internal/model"
)

// Sink appends flush records to a log file, one human-readable line per
// record.
//
// The file is opened in append mode and each record is written with a
// single write call, so previously flushed lines survive a crash
// mid-write. The sink never rewrites prior lines.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	path string

	// lastWindowEnd guards append ordering; appends must be monotonic
	// in window end under normal operation.
	lastWindowEnd time.Time
}

// NewSink opens (creating if absent) the log file at path. An
// unwritable path is reported here, at startup, before any sampling
// begins.
func NewSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}
	return &Sink{f: f, path: path}, nil
}

// Append writes one flush record as a single line. Records must arrive
// in window order; an out-of-order record is rejected rather than
// silently interleaved.
func (s *Sink) Append(rec model.FlushRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastWindowEnd.IsZero() && rec.WindowEnd.Before(s.lastWindowEnd) {
		return fmt.Errorf("out-of-order flush record: window end %s before %s",
			rec.WindowEnd.Format(time.RFC3339), s.lastWindowEnd.Format(time.RFC3339))
	}

	if _, err := s.f.Write([]byte(FormatRecord(rec) + "\n")); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}

	s.lastWindowEnd = rec.WindowEnd
	return nil
}

// Close releases the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// FormatRecord renders a flush record as one output line:
//
//	<window_start> <window_end> min=<spread> max=<spread> min%=<pct> max%=<pct> bands=<a>/<b>/<c>/<d> samples=<n>
//
// The bands field is the spread-percent distribution of the window's
// samples: counts for under 0.2%, 0.2-0.3%, 0.3-0.4% and 0.4% or more,
// in that order. An empty window renders its min/max bounds as "-"
// since no reading defined them.
func FormatRecord(rec model.FlushRecord) string {
	start := rec.WindowStart.UTC().Format(time.RFC3339)
	end := rec.WindowEnd.UTC().Format(time.RFC3339)
	bands := fmt.Sprintf("%d/%d/%d/%d",
		rec.Bands.UnderTwo, rec.Bands.TwoToThree, rec.Bands.ThreeToFour, rec.Bands.FourPlus)

	if rec.Empty() {
		return fmt.Sprintf("%s %s min=- max=- min%%=- max%%=- bands=%s samples=0", start, end, bands)
	}

	return fmt.Sprintf("%s %s min=%s max=%s min%%=%s max%%=%s bands=%s samples=%d",
		start, end,
		rec.MinSpread.String(), rec.MaxSpread.String(),
		rec.MinPercent.String(), rec.MaxPercent.String(),
		bands,
		rec.SampleCount)
}
