// Package audio implements the ordered streaming-audio playback queue used
// for synthesized speech. Chunks arrive incrementally from the network and
// play back strictly in enqueue order; clearing the queue is the single
// cancellation primitive for utterance preemption and user interruption.
package audio

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/metrics"
)

// Chunk is one opaque audio byte buffer plus its arrival sequence number.
// Ownership transfers to the queue on Enqueue and to the decoder on dequeue.
type Chunk struct {
	Seq  int
	Data []byte
}

// Decoder turns an encoded chunk into playable samples. Decoding is the
// suspension point of the pipeline; implementations should honour ctx
// cancellation but may also finish and let the queue discard the output.
type Decoder interface {
	Decode(ctx context.Context, data []byte) ([]byte, error)
}

// Player plays decoded samples. Play blocks until the chunk has finished
// playing or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, samples []byte) error
}

// State is the queue's playback state.
type State string

const (
	StateIdle     State = "idle"
	StateDecoding State = "decoding"
	StatePlaying  State = "playing"
)

// Queue is an ordered audio playback queue with an explicit
// Idle -> Decoding -> Playing -> Idle state machine. At most one chunk is
// ever audibly playing; chunks play in enqueue order. Clear is a legal
// transition from any state.
type Queue struct {
	decoder Decoder
	player  Player
	logger  zerolog.Logger

	mu       sync.Mutex
	pending  []Chunk
	state    State
	draining bool
	gen      uint64             // bumped by Clear; stale drain output is discarded
	cancel   context.CancelFunc // cancels the in-flight decode/play

	onChunkStart func(Chunk) // optional, called just before a chunk plays
}

// NewQueue creates an idle queue draining through the given decoder and
// player.
func NewQueue(decoder Decoder, player Player, logger zerolog.Logger) *Queue {
	return &Queue{
		decoder: decoder,
		player:  player,
		logger:  logger.With().Str("component", "audio-queue").Logger(),
		state:   StateIdle,
	}
}

// SetOnChunkStart registers a callback invoked immediately before each chunk
// becomes audible. Used to keep the speech driver in lockstep with playback.
func (q *Queue) SetOnChunkStart(fn func(Chunk)) {
	q.mu.Lock()
	q.onChunkStart = fn
	q.mu.Unlock()
}

// State returns the queue's current playback state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Pending returns the number of chunks waiting to be played.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue appends a chunk and, if no playback is in progress, starts
// draining the queue in a background goroutine.
func (q *Queue) Enqueue(chunk Chunk) {
	q.mu.Lock()
	q.pending = append(q.pending, chunk)
	metrics.AudioQueueDepth.Set(float64(len(q.pending)))
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()
}

// Clear discards all pending chunks and stops the currently playing chunk
// immediately. In-flight decode operations finish but their output is
// discarded rather than forcibly aborted.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.gen++
	if q.cancel != nil {
		q.cancel()
	}
	metrics.AudioQueueDepth.Set(0)
	if dropped > 0 {
		metrics.AudioChunksDropped.WithLabelValues("cleared").Add(float64(dropped))
	}
	q.mu.Unlock()

	q.logger.Debug().Int("dropped", dropped).Msg("queue cleared")
}

// drain pops and plays chunks until the queue is empty. It runs on its own
// goroutine; only one drain loop is active at a time. Clear bumps the
// generation, so output decoded across a Clear is discarded rather than
// played. The loop re-reads the generation each iteration: anything still in
// pending at that point survived the Clear and belongs to the new utterance.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		gen := q.gen
		if len(q.pending) == 0 {
			q.state = StateIdle
			q.draining = false
			q.mu.Unlock()
			return
		}
		chunk := q.pending[0]
		q.pending = q.pending[1:]
		metrics.AudioQueueDepth.Set(float64(len(q.pending)))

		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.state = StateDecoding
		q.mu.Unlock()

		samples, err := q.decoder.Decode(ctx, chunk.Data)
		if err != nil {
			// A bad chunk is dropped; the rest of the utterance continues.
			cancel()
			metrics.AudioChunksDropped.WithLabelValues("decode_error").Inc()
			q.logger.Warn().Err(err).Int("seq", chunk.Seq).Msg("decode failed, skipping chunk")
			continue
		}

		q.mu.Lock()
		if q.gen != gen {
			// Cleared while decoding: discard the output.
			q.mu.Unlock()
			cancel()
			continue
		}
		if q.onChunkStart != nil {
			q.onChunkStart(chunk)
		}
		q.state = StatePlaying
		q.mu.Unlock()

		if err := q.player.Play(ctx, samples); err != nil && ctx.Err() == nil {
			q.logger.Warn().Err(err).Int("seq", chunk.Seq).Msg("playback error")
		}
		cancel()
	}
}
