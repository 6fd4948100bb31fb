package ws

import (
	"sync"

	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
)

// Transport is a live client connection the registry can write to.
type Transport interface {
	Send(payload any) error
	Close(code int, reason string) error
}

// Registry maps user ids to the one live transport this process holds for
// each of them.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
	logger     logging.Logger
	metrics    *metrics.Metrics
}

func NewRegistry(logger logging.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		transports: make(map[string]Transport),
		logger:     logger,
		metrics:    m,
	}
}

// Connect registers t for userID. A previous transport for the same user is
// replaced but left open, and its later DisconnectIf leaves t in place.
func (r *Registry) Connect(userID string, t Transport) {
	r.mu.Lock()
	_, replaced := r.transports[userID]
	r.transports[userID] = t
	n := len(r.transports)
	r.mu.Unlock()

	r.metrics.SetConnections(n)
	r.logger.Debug(logging.WebSocket, logging.Handshake, "connection registered", map[logging.ExtraKey]any{
		logging.UserID: userID,
		"replaced":     replaced,
		"total":        n,
	})
}

// Disconnect is a no-op for unknown users.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	_, ok := r.transports[userID]
	delete(r.transports, userID)
	n := len(r.transports)
	r.mu.Unlock()

	if ok {
		r.metrics.SetConnections(n)
	}
}

// DisconnectIf removes userID only while it is still mapped to t.
func (r *Registry) DisconnectIf(userID string, t Transport) bool {
	r.mu.Lock()
	current, ok := r.transports[userID]
	if !ok || current != t {
		r.mu.Unlock()
		return false
	}
	delete(r.transports, userID)
	n := len(r.transports)
	r.mu.Unlock()

	r.metrics.SetConnections(n)
	r.logger.Debug(logging.WebSocket, logging.Shutdown, "connection unregistered", map[logging.ExtraKey]any{
		logging.UserID: userID,
		"total":        n,
	})
	return true
}

// SendToUser reports false, nil when the user has no connection here.
func (r *Registry) SendToUser(payload any, userID string) (bool, error) {
	r.mu.RLock()
	t, ok := r.transports[userID]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := t.Send(payload); err != nil {
		return false, err
	}
	return true, nil
}

// Broadcast returns how many transports accepted the payload.
func (r *Registry) Broadcast(payload any) int {
	sent := 0
	for _, t := range r.snapshot() {
		if err := t.Send(payload); err == nil {
			sent++
		}
	}
	return sent
}

// CloseAll closes every transport; each one unregisters itself as its read
// loop exits.
func (r *Registry) CloseAll(code int, reason string) {
	for _, t := range r.snapshot() {
		_ = t.Close(code, reason)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}

func (r *Registry) snapshot() []Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Transport, 0, len(r.transports))
	for _, t := range r.transports {
		out = append(out, t)
	}
	return out
}
