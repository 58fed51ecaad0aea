// Package events fans manager events out to subscriber connections.
package events

import (
	"sync"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Source is the event surface of the call manager.
type Source interface {
	OnParticipantJoined(fn func(domain.ParticipantRef)) core.Handle
	OnParticipantLeft(fn func(sessionID string)) core.Handle
	OnStateChange(fn func(core.State)) core.Handle
	Unsubscribe(h core.Handle) bool
}

// PublishResult reports delivery stats for one broadcast.
type PublishResult struct {
	SentTo  int
	Dropped []string
}

// Hub holds subscriber sinks. A sink whose queue is full is dropped and
// closed; the subscriber reconnects and resyncs from /api/state.
type Hub struct {
	mu    sync.RWMutex
	sinks map[string]core.EventSink

	handles []core.Handle
	source  Source
}

func NewHub() *Hub {
	return &Hub{sinks: make(map[string]core.EventSink)}
}

// Attach subscribes the hub to src. Calling it again replaces the source.
func (h *Hub) Attach(src Source) {
	h.Detach()
	h.mu.Lock()
	h.source = src
	h.handles = []core.Handle{
		src.OnParticipantJoined(func(p domain.ParticipantRef) { h.Broadcast(joinedMessage(p)) }),
		src.OnParticipantLeft(func(sid string) { h.Broadcast(leftMessage(sid)) }),
		src.OnStateChange(func(s core.State) { h.Broadcast(stateMessage(s)) }),
	}
	h.mu.Unlock()
}

func (h *Hub) Detach() {
	h.mu.Lock()
	src, handles := h.source, h.handles
	h.source, h.handles = nil, nil
	h.mu.Unlock()
	for _, hd := range handles {
		src.Unsubscribe(hd)
	}
}

func (h *Hub) Register(s core.EventSink) {
	h.mu.Lock()
	old, ok := h.sinks[s.ID()]
	h.sinks[s.ID()] = s
	n := len(h.sinks)
	h.mu.Unlock()
	if ok && old != s {
		old.Close()
	}
	log.Info().Str("module", "events.hub").Str("sid", s.ID()).Int("count", n).Msg("subscriber registered")
}

// Unregister removes s only if it is still the registered sink for its id.
func (h *Hub) Unregister(s core.EventSink) {
	h.mu.Lock()
	cur, ok := h.sinks[s.ID()]
	if ok && cur == s {
		delete(h.sinks, s.ID())
	}
	h.mu.Unlock()
	if ok && cur == s {
		log.Info().Str("module", "events.hub").Str("sid", s.ID()).Msg("subscriber unregistered")
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

func (h *Hub) Broadcast(msg Message) PublishResult {
	data, err := Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "events.hub").Msg("marshal event")
		return PublishResult{}
	}

	h.mu.RLock()
	res := PublishResult{}
	var slow []core.EventSink
	for _, s := range h.sinks {
		if err := s.TrySend(data); err != nil {
			slow = append(slow, s)
			res.Dropped = append(res.Dropped, s.ID())
			continue
		}
		res.SentTo++
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.Unregister(s)
		s.Close()
	}
	log.Debug().Str("module", "events.hub").Str("type", msg.Type).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Close closes every sink.
func (h *Hub) Close() {
	h.Detach()
	h.mu.Lock()
	sinks := h.sinks
	h.sinks = make(map[string]core.EventSink)
	h.mu.Unlock()
	for _, s := range sinks {
		s.Close()
	}
}
