// Package countdown converts an auction's time basis, an absolute deadline
// or a relative minutes-from-now value, into a steadily decreasing
// remaining-time display value.
package countdown

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Remaining is the decomposed time left in an auction.
type Remaining struct {
	Hours   int
	Minutes int
	Seconds int
	Expired bool
}

func (r Remaining) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", r.Hours, r.Minutes, r.Seconds)
}

// Countdown ticks once per second toward a frozen end instant. The end
// instant is computed exactly once at construction; a relative minutes
// basis is never recomputed from "now" on a tick, which would push the
// deadline forward forever.
type Countdown struct {
	clock clockwork.Clock
	end   time.Time
}

// NewFromDeadline builds a countdown from an absolute RFC3339 deadline.
func NewFromDeadline(clock clockwork.Clock, deadline string) (*Countdown, error) {
	end, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		return nil, fmt.Errorf("parse deadline %q: %w", deadline, err)
	}
	return &Countdown{clock: clock, end: end}, nil
}

// NewFromMinutes builds a countdown ending the given number of minutes
// from now. The end instant is frozen here.
func NewFromMinutes(clock clockwork.Clock, minutes int) *Countdown {
	return &Countdown{
		clock: clock,
		end:   clock.Now().Add(time.Duration(minutes) * time.Minute),
	}
}

// End returns the frozen end instant.
func (c *Countdown) End() time.Time {
	return c.end
}

// Remaining computes the time left as of now, clamped at zero.
func (c *Countdown) Remaining() Remaining {
	return c.remainingAt(c.clock.Now())
}

func (c *Countdown) remainingAt(now time.Time) Remaining {
	diff := c.end.Sub(now)
	if diff <= 0 {
		return Remaining{Expired: true}
	}

	total := int(diff / time.Second)
	return Remaining{
		Hours:   total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}

// Run ticks once per second, invoking onTick with each new value, until
// the countdown expires or ctx is cancelled. The terminal expired value is
// delivered exactly once and the ticker is stopped rather than left
// running. onTick is also invoked immediately with the initial value.
func (c *Countdown) Run(ctx context.Context, onTick func(Remaining)) {
	r := c.Remaining()
	onTick(r)
	if r.Expired {
		return
	}

	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("countdown cancelled")
			return
		case <-ticker.Chan():
			r = c.Remaining()
			onTick(r)
			if r.Expired {
				return
			}
		}
	}
}
