// Package resume records outbound stream frames per stream id so a client
// that lost its connection can re-attach and replay what it missed before
// catching up with the live stream.
package resume

import (
	"context"
	"sync"
	"time"

	"github.com/membranehq/ai-agent-example/genai/streaming"
)

// Store persists frames of in-flight streams.
type Store interface {
	// Append records one frame under the stream id.
	Append(ctx context.Context, streamID string, frame streaming.Frame) error

	// Replay returns all recorded frames of the stream in append order.
	Replay(ctx context.Context, streamID string) ([]streaming.Frame, error)

	// Complete marks the stream as finished.
	Complete(ctx context.Context, streamID string) error

	// Completed reports whether the stream has finished.
	Completed(ctx context.Context, streamID string) (bool, error)
}

// MemStore is the in-process fallback used when no Redis address is
// configured. Entries expire lazily on access.
type MemStore struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	frames  map[string][]streaming.Frame
	done    map[string]bool
	touched map[string]time.Time
}

// NewMemStore creates an in-memory store with the given entry TTL.
func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemStore{
		ttl:     ttl,
		now:     time.Now,
		frames:  map[string][]streaming.Frame{},
		done:    map[string]bool{},
		touched: map[string]time.Time{},
	}
}

func (m *MemStore) Append(ctx context.Context, streamID string, frame streaming.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpired()
	m.frames[streamID] = append(m.frames[streamID], frame)
	m.touched[streamID] = m.now()
	return nil
}

func (m *MemStore) Replay(ctx context.Context, streamID string) ([]streaming.Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	frames := m.frames[streamID]
	out := make([]streaming.Frame, len(frames))
	copy(out, frames)
	return out, nil
}

func (m *MemStore) Complete(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[streamID] = true
	m.touched[streamID] = m.now()
	return nil
}

func (m *MemStore) Completed(ctx context.Context, streamID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done[streamID], nil
}

// evictExpired drops streams idle beyond the TTL. Caller holds the lock.
func (m *MemStore) evictExpired() {
	cutoff := m.now().Add(-m.ttl)
	for id, at := range m.touched {
		if at.Before(cutoff) {
			delete(m.frames, id)
			delete(m.done, id)
			delete(m.touched, id)
		}
	}
}

// Recorder tees every frame into the store before forwarding it to the
// wrapped sink. Store failures are returned to the producer; a resume store
// that silently loses frames would replay a corrupted stream.
type Recorder struct {
	store    Store
	streamID string
	next     streaming.Sink
}

// NewRecorder wraps next so frames are recorded under streamID.
func NewRecorder(store Store, streamID string, next streaming.Sink) *Recorder {
	return &Recorder{store: store, streamID: streamID, next: next}
}

func (r *Recorder) Write(frame streaming.Frame) error {
	if err := r.store.Append(context.Background(), r.streamID, frame); err != nil {
		return err
	}
	if frame.Type == streaming.FrameFinish {
		if err := r.store.Complete(context.Background(), r.streamID); err != nil {
			return err
		}
	}
	return r.next.Write(frame)
}
