// Package memory provides an in-process publisher that records alert
// notifications, standing in for Pub/Sub in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// Notification captures one published alert.
type Notification struct {
	ID    string
	Topic string
	Alert whale.PersistedAlert
}

// Publisher implements whale.Publisher by recording notifications in memory.
type Publisher struct {
	mu            sync.RWMutex
	notifications []Notification
	err           error
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every subsequent Publish return err. Pass nil to restore
// normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the alert and returns a generated message ID. Only
// whale.PersistedAlert payloads are accepted.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	alert, ok := payload.(whale.PersistedAlert)
	if !ok {
		return "", fmt.Errorf("memory publisher: unsupported payload type %T", payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := fmt.Sprintf("memory-%d", len(p.notifications)+1)
	p.notifications = append(p.notifications, Notification{ID: id, Topic: topic, Alert: alert})
	return id, nil
}

// Notifications returns a copy of the recorded publishes, in order.
func (p *Publisher) Notifications() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notification, len(p.notifications))
	copy(out, p.notifications)
	return out
}

// AlertsFor returns the alerts published to topic, in order.
func (p *Publisher) AlertsFor(topic string) []whale.PersistedAlert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []whale.PersistedAlert
	for _, n := range p.notifications {
		if n.Topic == topic {
			out = append(out, n.Alert)
		}
	}
	return out
}
