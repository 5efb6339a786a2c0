package timeutil

import (
	"context"
	"time"
)

// Pacer maps stream timestamps onto wall-clock time so that a recorded
// measurement stream is replayed at speed× real time.
type Pacer struct {
	clock Clock
	speed float64

	started bool
	origin  time.Time // first stream timestamp
	start   time.Time // wall time of the first Wait
}

// NewPacer returns a pacer driven by clock. A speed of zero or less disables
// pacing and Wait returns immediately.
func NewPacer(clock Clock, speed float64) *Pacer {
	return &Pacer{clock: clock, speed: speed}
}

// Wait blocks until the stream timestamp t is due or ctx is done. Timestamps
// earlier than one already waited for are due immediately.
func (p *Pacer) Wait(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.speed <= 0 {
		return nil
	}
	if !p.started {
		p.started = true
		p.origin = t
		p.start = p.clock.Now()
		return nil
	}
	offset := time.Duration(float64(t.Sub(p.origin)) / p.speed)
	d := p.clock.Until(p.start.Add(offset))
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}
