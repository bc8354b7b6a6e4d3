// Package events publishes ledger, hold and profit events to collaborators after commit
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event types
const (
	TypeTransactionCompleted = "ledger.transaction.completed"
	TypeTransactionPending   = "ledger.transaction.pending"
	TypeTransactionFailed    = "ledger.transaction.failed"
	TypeTransactionReversed  = "ledger.transaction.reversed"
	TypeHoldPlaced           = "holding.placed"
	TypeHoldReleased         = "holding.released"
	TypeHoldCancelled        = "holding.cancelled"
	TypeHoldExpired          = "holding.expired"
	TypeInvestmentCreated    = "investment.created"
	TypeInvestmentApproved   = "investment.approved"
	TypeInvestmentRejected   = "investment.rejected"
	TypeInvestmentMatured    = "investment.matured"
	TypeProfitDistributed    = "profit.distributed"
)

// Event is one message for collaborators. Key groups related events on a partition.
type Event struct {
	Type       string    `json:"event_type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Encode renders the event as its wire JSON
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NoopPublisher) Close() error                            { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
