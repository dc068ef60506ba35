// Package stream turns text into paced token sequences.
package stream

import (
	"context"
	"iter"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Pacing describes the inter-token delay distribution.
type Pacing struct {
	Mean   time.Duration
	StdDev time.Duration
	Floor  time.Duration
}

// DefaultPacing returns the human-like cadence used in production.
func DefaultPacing() Pacing {
	return Pacing{
		Mean:   80 * time.Millisecond,
		StdDev: 40 * time.Millisecond,
		Floor:  20 * time.Millisecond,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Emitter produces paced token sequences. It is safe for concurrent use.
type Emitter struct {
	pacing Pacing
	sleep  SleepFunc

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithRand sets the random source used to sample delays.
func WithRand(r *rand.Rand) Option {
	return func(e *Emitter) { e.rnd = r }
}

// WithSleep replaces the clock used between tokens.
func WithSleep(fn SleepFunc) Option {
	return func(e *Emitter) { e.sleep = fn }
}

// New creates an Emitter with the given pacing.
func New(p Pacing, opts ...Option) *Emitter {
	e := &Emitter{pacing: p, sleep: Sleep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NextDelay samples one inter-token delay. The result is never below the floor.
func (e *Emitter) NextDelay() time.Duration {
	var z float64
	e.mu.Lock()
	if e.rnd != nil {
		z = e.rnd.NormFloat64()
	} else {
		z = rand.NormFloat64()
	}
	e.mu.Unlock()

	d := e.pacing.Mean + time.Duration(z*float64(e.pacing.StdDev))
	return max(d, e.pacing.Floor)
}

// Stream yields the tokens of text, each preceded by a pacing delay.
// If ctx is cancelled while waiting, the context error is yielded once and
// the sequence ends without further tokens.
func (e *Emitter) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, tok := range Tokens(text) {
			if err := e.sleep(ctx, e.NextDelay()); err != nil {
				yield("", err)
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
	}
}

// Tokens splits text on single spaces and re-appends one space to each piece,
// so concatenating the tokens restores the text plus a trailing space.
func Tokens(text string) []string {
	parts := strings.Split(text, " ")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p + " "
	}
	return out
}

// Sleep waits for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
