package vicap

import (
	"math"
	"testing"
	"time"
)

func TestSessionStats(t *testing.T) {
	s := newSessionStats("cam0")
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// three frames at a steady 10 ms cadence, one of them bad
	for i, state := range []BufferState{BufferDone, BufferError, BufferDone} {
		s.record(&Buffer{
			State:     state,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Millisecond),
		})
	}

	rec := s.finish()
	if rec.Channel != "cam0" {
		t.Errorf("channel = %q, want cam0", rec.Channel)
	}
	if rec.Frames != 3 || rec.Errors != 1 {
		t.Errorf("counted %d frames / %d errors, want 3 / 1", rec.Frames, rec.Errors)
	}
	if math.Abs(rec.MeanInterval-0.010) > 1e-9 {
		t.Errorf("mean interval = %g s, want 0.010", rec.MeanInterval)
	}
	if rec.StdInterval > 1e-9 {
		t.Errorf("interval spread = %g s for a steady cadence, want 0", rec.StdInterval)
	}
	if rec.End.Before(rec.Start) {
		t.Errorf("session ends %v before it starts %v", rec.End, rec.Start)
	}
}

func TestSessionStatsEmpty(t *testing.T) {
	rec := newSessionStats("cam0").finish()
	if rec.Frames != 0 || rec.Errors != 0 {
		t.Errorf("empty session counted %d frames / %d errors", rec.Frames, rec.Errors)
	}
	if rec.MeanInterval != 0 || rec.StdInterval != 0 {
		t.Errorf("empty session has intervals %g / %g", rec.MeanInterval, rec.StdInterval)
	}
}
