package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadbot/internal/model"
)

func testRecord(start, end time.Time, min, max string, count int) model.FlushRecord {
	rec := model.FlushRecord{
		Pair:        "Xbt-Aud",
		WindowStart: start,
		WindowEnd:   end,
		SampleCount: count,
	}
	if count > 0 {
		rec.MinSpread = decimal.RequireFromString(min)
		rec.MaxSpread = decimal.RequireFromString(max)
		rec.MinPercent = rec.MinSpread.Div(decimal.NewFromInt(100))
		rec.MaxPercent = rec.MaxSpread.Div(decimal.NewFromInt(100))
		// Percents built above are all 0.4% or more.
		rec.Bands = model.PercentBands{FourPlus: count}
	}
	return rec
}

func Test_NewSink_CreatesFileIfAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spread.log")

	sink, err := NewSink(path)
	require.NoError(t, err)
	defer sink.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "output file must be created at startup")
}

func Test_NewSink_UnwritablePathFailsAtStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "spread.log")

	_, err := NewSink(path)
	assert.Error(t, err, "an uncreatable output file is a startup error")
}

func Test_Append_WritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spread.log")
	sink, err := NewSink(path)
	require.NoError(t, err)
	defer sink.Close()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append(testRecord(start, start.Add(time.Hour), "0.5", "3", 3)))
	require.NoError(t, sink.Append(testRecord(start.Add(time.Hour), start.Add(2*time.Hour), "1", "2", 5)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"2024-03-01T10:00:00Z 2024-03-01T11:00:00Z min=0.5 max=3 min%=0.005 max%=0.03 bands=0/0/0/3 samples=3",
		lines[0])
	assert.Contains(t, lines[1], "samples=5")
}

func Test_Append_PreservesPriorRecordsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spread.log")
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	sink, err := NewSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(testRecord(start, start.Add(time.Hour), "1", "2", 1)))
	require.NoError(t, sink.Close())

	// A restarted process must never lose previously flushed records.
	sink, err = NewSink(path)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Append(testRecord(start.Add(time.Hour), start.Add(2*time.Hour), "1", "2", 1)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func Test_Append_RejectsOutOfOrderRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spread.log")
	sink, err := NewSink(path)
	require.NoError(t, err)
	defer sink.Close()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append(testRecord(start, start.Add(2*time.Hour), "1", "2", 1)))

	err = sink.Append(testRecord(start, start.Add(time.Hour), "1", "2", 1))
	assert.Error(t, err, "appends must be monotonic in window end")
}

func Test_FormatRecord_EmptyWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	line := FormatRecord(testRecord(start, start.Add(time.Hour), "", "", 0))

	assert.Equal(t,
		"2024-03-01T10:00:00Z 2024-03-01T11:00:00Z min=- max=- min%=- max%=- bands=0/0/0/0 samples=0",
		line)
}
