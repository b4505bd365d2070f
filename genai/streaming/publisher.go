package streaming

import (
	"context"
	"sync"
)

// Publisher fan-outs stream frames to conversation-scoped subscribers, e.g.
// a resume endpoint attaching to an in-flight stream.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string]map[chan Frame]struct{}
}

// NewPublisher creates a new stream publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string]map[chan Frame]struct{})}
}

// Publish delivers a frame to every subscriber of the conversation. The
// channel set is snapshotted under the lock so a concurrent cancel cannot
// mutate the map mid fan-out.
func (p *Publisher) Publish(_ context.Context, convID string, frame Frame) error {
	if p == nil || convID == "" {
		return nil
	}
	p.mu.RLock()
	targets := make([]chan Frame, 0, len(p.subs[convID]))
	for ch := range p.subs[convID] {
		targets = append(targets, ch)
	}
	p.mu.RUnlock()
	for _, ch := range targets {
		select {
		case ch <- frame:
		default:
			// Drop if subscriber is slow to keep streaming non-blocking.
		}
	}
	return nil
}

// Subscribe returns a channel that receives frames for the conversation and
// a cancel function that must be called to release the subscription. The
// channel is never closed; a publish snapshot taken before cancel may still
// send into it, and consumers exit on their own context or a finish frame.
func (p *Publisher) Subscribe(convID string) (<-chan Frame, func()) {
	ch := make(chan Frame, 128)
	if p == nil || convID == "" {
		return ch, func() {}
	}
	p.mu.Lock()
	if p.subs[convID] == nil {
		p.subs[convID] = make(map[chan Frame]struct{})
	}
	p.subs[convID][ch] = struct{}{}
	p.mu.Unlock()
	cancel := func() {
		p.mu.Lock()
		if subs, ok := p.subs[convID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(p.subs, convID)
			}
		}
		p.mu.Unlock()
	}
	return ch, cancel
}
