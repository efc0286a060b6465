// Package fanout routes per-job events to live subscribers. The hub
// has no transport knowledge; WebSocket sessions implement Channel and
// register themselves for the jobs they care about.
package fanout

import (
	"sync"

	"promptgate/pkg/logx"
)

// Channel is one subscriber endpoint. Send must not block; a transport
// with a full outbound buffer should drop or fail fast and return an
// error, at which point the hub evicts it everywhere.
type Channel interface {
	ID() string
	Send(event string, payload any) error
}

// Hub maps job IDs to their subscribed channels.
type Hub struct {
	log logx.Logger

	mu   sync.RWMutex
	subs map[string]map[string]Channel // jobID -> channelID -> channel
}

func NewHub(log logx.Logger) *Hub {
	return &Hub{log: log, subs: make(map[string]map[string]Channel)}
}

// Subscribe attaches ch to jobID. Subscribing twice is idempotent.
func (h *Hub) Subscribe(jobID string, ch Channel) {
	h.mu.Lock()
	m, ok := h.subs[jobID]
	if !ok {
		m = make(map[string]Channel)
		h.subs[jobID] = m
	}
	m[ch.ID()] = ch
	h.mu.Unlock()
}

// Unsubscribe detaches ch from jobID. Unknown pairs are ignored.
func (h *Hub) Unsubscribe(jobID string, ch Channel) {
	h.mu.Lock()
	if m, ok := h.subs[jobID]; ok {
		delete(m, ch.ID())
		if len(m) == 0 {
			delete(h.subs, jobID)
		}
	}
	h.mu.Unlock()
}

// Drop removes ch from every job it is subscribed to. Called when a
// connection closes.
func (h *Hub) Drop(ch Channel) {
	id := ch.ID()
	h.mu.Lock()
	for jobID, m := range h.subs {
		if _, ok := m[id]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(h.subs, jobID)
			}
		}
	}
	h.mu.Unlock()
}

// Publish delivers one event to every channel subscribed to jobID.
// Channels whose Send fails are evicted so a dead connection cannot
// stall future publishes. Delivery order is preserved per channel
// because each publish runs to completion before the next.
func (h *Hub) Publish(jobID, event string, payload any) {
	h.mu.RLock()
	m := h.subs[jobID]
	targets := make([]Channel, 0, len(m))
	for _, ch := range m {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	var dead []Channel
	for _, ch := range targets {
		if err := ch.Send(event, payload); err != nil {
			h.log.Debug("dropping dead subscriber",
				logx.String("channel", ch.ID()), logx.String("job_id", jobID), logx.Err(err))
			dead = append(dead, ch)
		}
	}
	for _, ch := range dead {
		h.Drop(ch)
	}
}

// Stats reports live subscription totals and the subscriber count per
// job.
type Stats struct {
	Jobs          int            `json:"subscribed_jobs"`
	Subscriptions int            `json:"active_subscriptions"`
	PerJob        map[string]int `json:"subscribers_per_job,omitempty"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{
		Jobs:   len(h.subs),
		PerJob: make(map[string]int, len(h.subs)),
	}
	for jobID, m := range h.subs {
		st.Subscriptions += len(m)
		st.PerJob[jobID] = len(m)
	}
	return st
}
