package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Hub tracks live sessions and fans events out to them. Fan-out is serialized
// so every dashboard observes broadcasts in the same order, and a full queue
// closes that observer instead of blocking the caller.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	fanoutMu sync.Mutex
	dropped  atomic.Uint64
	logger   zerolog.Logger
}

type HubStats struct {
	Bots       int    `json:"bots"`
	Dashboards int    `json:"dashboards"`
	Dropped    uint64 `json:"dropped"`
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Hub) session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// BroadcastAll delivers event to every dashboard session.
func (h *Hub) BroadcastAll(event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}

	var slow []*Session
	h.fanoutMu.Lock()
	h.mu.RLock()
	for _, s := range h.sessions {
		if s.role != RoleDashboard {
			continue
		}
		if !s.enqueue(frame) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()
	h.fanoutMu.Unlock()

	for _, s := range slow {
		if s.Closed() {
			continue
		}
		h.dropped.Add(1)
		h.logger.Warn().Str("conn", s.id).Str("event", event).Msg("observer queue full, closing")
		s.Close()
	}
}

// Unicast delivers event to one session. It reports false when the session is
// gone or cannot take more frames; nothing is retried.
func (h *Hub) Unicast(connID string, event string, payload any) bool {
	s, ok := h.session(connID)
	if !ok {
		return false
	}
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode unicast")
		return false
	}
	return s.enqueue(frame)
}

// Reply answers a dashboard command's ack id on the requesting session.
func (h *Hub) Reply(s *Session, ack int64, payload any) bool {
	frame, err := encodeAck(ack, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode ack")
		return false
	}
	return s.enqueue(frame)
}

// CloseIdle closes sessions that have been silent for longer than maxIdle and
// returns how many were closed. Their read loops run the normal disconnect path.
func (h *Hub) CloseIdle(now time.Time, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	var idle []*Session
	h.mu.RLock()
	for _, s := range h.sessions {
		if s.idleSince(now) > maxIdle {
			idle = append(idle, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range idle {
		h.logger.Info().Str("conn", s.id).Str("role", string(s.role)).Msg("closing idle connection")
		s.Close()
	}
	return len(idle)
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{Dropped: h.dropped.Load()}
	for _, s := range h.sessions {
		switch s.role {
		case RoleBot:
			stats.Bots++
		case RoleDashboard:
			stats.Dashboards++
		}
	}
	return stats
}
