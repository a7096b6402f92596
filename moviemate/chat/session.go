package chat

import "sync"

// SessionMemory holds the exchanges of one session, oldest first. It only
// grows and is discarded with the session.
type SessionMemory struct {
	mu        sync.RWMutex
	exchanges []Exchange
}

func NewSessionMemory() *SessionMemory {
	return &SessionMemory{}
}

func (m *SessionMemory) Append(e Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, e)
}

// History returns a copy of the exchanges in insertion order.
func (m *SessionMemory) History() []Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Exchange, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}

func (m *SessionMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exchanges)
}
