package speech

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/audio"
)

// Utterance pairs the audio of one synthesized reply with its word timings.
type Utterance struct {
	Chunks  []audio.Chunk
	Timings []Timing
}

// Controller keeps the audio queue and the speech driver in lockstep: the
// viseme clock starts only when the first audio chunk actually becomes
// audible, not when the utterance is submitted, so network jitter between
// submission and playback does not desynchronize the mouth.
type Controller struct {
	queue  *audio.Queue
	driver *Driver
	emit   func(Cue)
	logger zerolog.Logger

	mu      sync.Mutex
	pending []Timing // timings for the utterance whose audio has not started yet
}

// NewController wires a queue and driver together. emit receives every
// mouth-shape cue of every utterance.
func NewController(queue *audio.Queue, driver *Driver, emit func(Cue), logger zerolog.Logger) *Controller {
	c := &Controller{
		queue:  queue,
		driver: driver,
		emit:   emit,
		logger: logger.With().Str("component", "speech-controller").Logger(),
	}
	queue.SetOnChunkStart(c.onChunkStart)
	return c
}

// Speak preempts whatever is currently playing and starts the new utterance:
// the queue is cleared, the running viseme dispatch is cancelled, and the new
// chunks are enqueued. The driver starts when the first chunk plays.
func (c *Controller) Speak(u Utterance) {
	c.driver.Cancel()
	c.queue.Clear()

	c.mu.Lock()
	c.pending = u.Timings
	c.mu.Unlock()

	for _, chunk := range u.Chunks {
		c.queue.Enqueue(chunk)
	}
}

// Stop silences the avatar: pending audio is dropped, the current chunk
// stops, and the mouth closes.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	c.queue.Clear()
	c.driver.Cancel()
}

func (c *Controller) onChunkStart(audio.Chunk) {
	c.mu.Lock()
	timings := c.pending
	c.pending = nil
	c.mu.Unlock()

	if timings == nil {
		return
	}
	c.logger.Debug().Int("words", len(timings)).Msg("utterance audible, starting viseme clock")
	c.driver.Speak(context.Background(), timings, c.emit)
}
