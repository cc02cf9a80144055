// Package realtime fans database change notifications out to in-process
// subscribers such as Server-Sent Event streams.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a change notification. It names the row but carries none of its
// data, so receivers re-read through the scoped API.
type Event struct {
	Table    string    `json:"table"`
	Action   string    `json:"action"`
	RecordID string    `json:"id,omitempty"`
	At       time.Time `json:"at"`
}

// Name is the SSE event name, e.g. "transactions.insert".
func (e Event) Name() string {
	return e.Table + "." + strings.ToLower(e.Action)
}

// DecodeEvent parses a pg_notify payload.
func DecodeEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	if e.Table == "" || e.Action == "" {
		return Event{}, fmt.Errorf("decode change event: table and action required")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e, nil
}

// HubConfig tunes a Hub.
type HubConfig struct {
	Buffer             int
	Logger             *zap.Logger
	OnSubscriberChange func(delta int)
}

// Hub broadcasts events to every subscriber. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Event
	next     uint64
	closed   bool
	buffer   int
	logger   *zap.Logger
	onChange func(int)
}

// NewHub builds a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnSubscriberChange == nil {
		cfg.OnSubscriberChange = func(int) {}
	}
	return &Hub{subs: make(map[uint64]chan Event), buffer: cfg.Buffer, logger: cfg.Logger, onChange: cfg.OnSubscriberChange}
}

// Subscribe registers a receiver. The returned cancel func is idempotent and
// closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.onChange(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		h.onChange(-1)
	}
}

// Publish delivers e to every subscriber that has room for it.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Debug("realtime subscriber lagging, event dropped", zap.Uint64("subscriber", id), zap.String("event", e.Name()))
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
		h.onChange(-1)
	}
}
