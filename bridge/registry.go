package bridge

import (
	"sync"

	"github.com/bt-bridge/telephony-realtime/shared"
)

// Registry tracks live bridges by conversation id. The driver owns one and
// injects it into every bridge it creates; bridges remove themselves on close.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
}

func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]*Bridge)}
}

func (r *Registry) Put(conversationId string, b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[conversationId] = b
}

func (r *Registry) Get(conversationId string) (*Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[conversationId]
	return b, ok
}

func (r *Registry) Remove(conversationId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bridges[conversationId]; !ok {
		return false
	}
	delete(r.bridges, conversationId)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// CloseConversation closes one bridge by conversation id, for an operator
// ending a specific call.
func (r *Registry) CloseConversation(conversationId string) error {
	b, ok := r.Get(conversationId)
	if !ok {
		return shared.ErrUnknownSession
	}
	return b.Close()
}

// CloseAll closes every live bridge, for driver shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.RUnlock()
	for _, b := range bridges {
		_ = b.Close()
	}
}
