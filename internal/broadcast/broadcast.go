package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event is one delivered session event. Payload holds the marshalled message
// so redis and in-memory delivery look identical to subscribers.
type Event struct {
	SessionID string          `json:"session_id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher fans session events out to whoever listens on that session.
// Delivery is at-most-once best-effort; publishing to a session with no
// listeners is a no-op. Ordering within one session is preserved.
type Publisher interface {
	Publish(ctx context.Context, sessionID, event string, payload any) error
}

// Subscriber attaches a listener to one session's event stream. The returned
// cancel func detaches the listener and releases its channel.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
}

// Broker combines both halves; the memory and redis implementations satisfy it.
type Broker interface {
	Publisher
	Subscriber
}

const subscriberBuffer = 256

// Memory is an in-process broker used in tests and single-node deployments.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan Event)}
}

func (m *Memory) Publish(_ context.Context, sessionID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	evt := Event{SessionID: sessionID, Name: event, Payload: raw}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[sessionID] {
		select {
		case ch <- evt:
		default:
			// Slow listener; drop rather than stall the voice pipeline.
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, sessionID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	id := m.next
	m.next++
	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[int]chan Event)
	}
	m.subs[sessionID][id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if listeners, ok := m.subs[sessionID]; ok {
			if _, ok := listeners[id]; ok {
				delete(listeners, id)
				close(ch)
			}
			if len(listeners) == 0 {
				delete(m.subs, sessionID)
			}
		}
		m.mu.Unlock()
	}
	return ch, cancel, nil
}

// ListenerCount reports how many listeners a session currently has.
func (m *Memory) ListenerCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[sessionID])
}
