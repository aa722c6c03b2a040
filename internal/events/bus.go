// Package events carries operational events from the turn loop and the
// API to live observers such as the /v1/events WebSocket. Publishing on
// a nil *Bus is a no-op, so components hold an optional bus without
// guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent = "agent"
	SourceAPI   = "api"
	SourceStore = "store"
)

// Kinds. The Data keys each kind carries are listed beside it.
const (
	// request_id, thread_id, message_len
	KindRequestStart = "request_start"
	// request_id, iter, model
	KindLLMCall = "llm_call"
	// request_id, iter, model, tokens_in, tokens_out, tool_calls
	KindLLMResponse = "llm_response"
	// request_id, tool, call_id
	KindToolCall = "tool_call"
	// request_id, tool, ok, duration_ms, error (when !ok)
	KindToolDone = "tool_done"
	// request_id, messages
	KindSummarize = "summarize"
	// thread_id, version
	KindStateSaved = "state_saved"
	// request_id, thread_id, iterations, tokens_in, tokens_out, elapsed_ms, error (on failure)
	KindRequestComplete = "request_complete"
	// user_id, thread_id
	KindSessionReset = "session_reset"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe accept the receive-only channel the
	// caller holds.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, dropping it for any whose
// buffer is full.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped now.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. Callers
// must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
