package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// passthroughDecoder decodes every chunk to its own bytes, failing on any
// chunk whose payload appears in bad.
type passthroughDecoder struct {
	mu  sync.Mutex
	bad map[string]bool
}

func (d *passthroughDecoder) Decode(_ context.Context, data []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bad[string(data)] {
		return nil, errors.New("corrupt chunk")
	}
	return data, nil
}

// recordingPlayer records played samples and can block playback until
// released, to let tests observe mid-playback state.
type recordingPlayer struct {
	mu      sync.Mutex
	played  []string
	active  int
	maxSeen int
	block   chan struct{} // when non-nil, Play waits on it
}

func (p *recordingPlayer) Play(ctx context.Context, samples []byte) error {
	p.mu.Lock()
	p.active++
	if p.active > p.maxSeen {
		p.maxSeen = p.active
	}
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.played = append(p.played, string(samples))
	p.active--
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func waitForIdle(t *testing.T, q *Queue) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.State() == StateIdle && q.Pending() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue did not return to idle, state=%s pending=%d", q.State(), q.Pending())
}

func TestPlaybackOrderMatchesEnqueueOrder(t *testing.T) {
	player := &recordingPlayer{}
	q := NewQueue(&passthroughDecoder{}, player, zerolog.Nop())

	for i := 0; i < 5; i++ {
		q.Enqueue(Chunk{Seq: i, Data: []byte(fmt.Sprintf("chunk-%d", i))})
	}
	waitForIdle(t, q)

	played := player.snapshot()
	if len(played) != 5 {
		t.Fatalf("played %d chunks, want 5", len(played))
	}
	for i, got := range played {
		want := fmt.Sprintf("chunk-%d", i)
		if got != want {
			t.Errorf("position %d: played %q, want %q", i, got, want)
		}
	}
}

func TestDecodeErrorSkipsChunkOnly(t *testing.T) {
	dec := &passthroughDecoder{bad: map[string]bool{"b": true}}
	player := &recordingPlayer{}
	q := NewQueue(dec, player, zerolog.Nop())

	q.Enqueue(Chunk{Seq: 0, Data: []byte("a")})
	q.Enqueue(Chunk{Seq: 1, Data: []byte("b")})
	q.Enqueue(Chunk{Seq: 2, Data: []byte("c")})
	waitForIdle(t, q)

	played := player.snapshot()
	if len(played) != 2 || played[0] != "a" || played[1] != "c" {
		t.Fatalf("played %v, want [a c]", played)
	}
}

func TestClearStopsCurrentAndDropsPending(t *testing.T) {
	release := make(chan struct{})
	player := &recordingPlayer{block: release}
	q := NewQueue(&passthroughDecoder{}, player, zerolog.Nop())

	q.Enqueue(Chunk{Seq: 0, Data: []byte("first")})
	q.Enqueue(Chunk{Seq: 1, Data: []byte("second")})

	// Wait until the first chunk is audible.
	deadline := time.Now().Add(2 * time.Second)
	for q.State() != StatePlaying {
		if time.Now().After(deadline) {
			t.Fatal("first chunk never started playing")
		}
		time.Sleep(time.Millisecond)
	}

	q.Clear()
	waitForIdle(t, q)
	close(release)

	if played := player.snapshot(); len(played) != 0 {
		t.Fatalf("played %v after clear, want nothing", played)
	}
}

func TestEnqueueAfterClearStartsFresh(t *testing.T) {
	player := &recordingPlayer{}
	q := NewQueue(&passthroughDecoder{}, player, zerolog.Nop())

	q.Enqueue(Chunk{Seq: 0, Data: []byte("old")})
	q.Clear()
	q.Enqueue(Chunk{Seq: 0, Data: []byte("new")})
	waitForIdle(t, q)

	// The old chunk may or may not have been audible before the clear landed,
	// but the fresh chunk must always play, and play last.
	played := player.snapshot()
	if len(played) == 0 || played[len(played)-1] != "new" {
		t.Fatalf("played %v, want it to end with the fresh chunk", played)
	}
}

func TestAtMostOneChunkPlaying(t *testing.T) {
	player := &recordingPlayer{}
	q := NewQueue(&passthroughDecoder{}, player, zerolog.Nop())

	for i := 0; i < 20; i++ {
		q.Enqueue(Chunk{Seq: i, Data: []byte(fmt.Sprintf("c%d", i))})
	}
	waitForIdle(t, q)

	player.mu.Lock()
	maxSeen := player.maxSeen
	player.mu.Unlock()
	if maxSeen > 1 {
		t.Fatalf("%d chunks playing concurrently, want at most 1", maxSeen)
	}
}

func TestEmptyQueueStaysIdle(t *testing.T) {
	q := NewQueue(&passthroughDecoder{}, &recordingPlayer{}, zerolog.Nop())
	if got := q.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	q.Clear() // clearing an empty queue is a no-op
	if got := q.State(); got != StateIdle {
		t.Fatalf("state after clear = %s, want idle", got)
	}
}
