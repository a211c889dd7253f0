// Package speech drives avatar mouth animation from word-level timing data.
// The synthesis backend reports when each word starts and how long it lasts;
// the driver turns that into a viseme timeline and emits each cue at the
// right moment on a wall clock started when playback begins.
package speech

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Driver schedules mouth-shape cues against a real-time clock. At most one
// utterance is active; starting a new one cancels the previous one first, and
// Cancel returns the mouth to silence.
type Driver struct {
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver returns an idle driver.
func NewDriver(logger zerolog.Logger) *Driver {
	return &Driver{
		logger: logger.With().Str("component", "speech-driver").Logger(),
	}
}

// Speak cancels any running utterance, builds a viseme timeline from the
// word timings and dispatches it on a background goroutine, calling emit for
// each cue as its start time arrives. Empty timings emit nothing. The
// returned channel closes when the utterance finishes or is cancelled.
func (d *Driver) Speak(ctx context.Context, timings []Timing, emit func(Cue)) <-chan struct{} {
	cues := BuildTimeline(timings)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	utterCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.run(utterCtx, cues, emit, done)
	return done
}

// Cancel stops the active utterance, if any, and emits a closing silence so
// the mouth does not freeze mid-shape. Safe to call when idle.
func (d *Driver) Cancel() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Active reports whether an utterance is currently being dispatched.
func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

func (d *Driver) run(ctx context.Context, cues []Cue, emit func(Cue), done chan struct{}) {
	defer close(done)

	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for _, cue := range cues {
		wait := time.Duration(cue.StartMs)*time.Millisecond - time.Since(start)
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				emit(Cue{Viseme: VisemeSilence, StartMs: cue.StartMs})
				d.logger.Debug().Msg("utterance cancelled")
				return
			}
		} else if ctx.Err() != nil {
			emit(Cue{Viseme: VisemeSilence, StartMs: cue.StartMs})
			return
		}
		emit(cue)
	}
}
