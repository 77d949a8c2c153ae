package vicap

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// SessionRecord summarizes one streaming session: frame and error counts
// plus frame interarrival statistics.
type SessionRecord struct {
	Channel string
	Start   time.Time
	End     time.Time
	Frames  uint64
	Errors  uint64

	// Interarrival time of retired frames, in seconds.
	MeanInterval float64
	StdInterval  float64
}

// sessionStats accumulates per-session frame accounting. Only the capture
// path touches it, so no locking.
type sessionStats struct {
	channel   string
	start     time.Time
	frames    uint64
	errors    uint64
	last      time.Time
	intervals []float64
}

func newSessionStats(channel string) *sessionStats {
	return &sessionStats{channel: channel, start: time.Now()}
}

func (s *sessionStats) record(buf *Buffer) {
	s.frames++
	if buf.State != BufferDone {
		s.errors++
	}
	ts := buf.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if !s.last.IsZero() {
		s.intervals = append(s.intervals, ts.Sub(s.last).Seconds())
	}
	s.last = ts
}

func (s *sessionStats) finish() SessionRecord {
	rec := SessionRecord{
		Channel: s.channel,
		Start:   s.start,
		End:     time.Now(),
		Frames:  s.frames,
		Errors:  s.errors,
	}
	switch len(s.intervals) {
	case 0:
	case 1:
		rec.MeanInterval = s.intervals[0]
	default:
		rec.MeanInterval, rec.StdInterval = stat.MeanStdDev(s.intervals, nil)
	}
	return rec
}
