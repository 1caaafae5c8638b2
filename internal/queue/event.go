// Package queue contains the queue lifecycle event types shared by the
// RabbitMQ publisher and the background consumer.
package queue

// Event types carried on the queue.events stream.
const (
	EventTicketRequested = "ticket.requested"
	EventTicketCancelled = "ticket.cancelled"
	EventTicketCalled    = "ticket.called"
	EventQueueCleared    = "queue.cleared"
)

// Event describes one queue lifecycle transition. Fields that do not
// apply to a given type are zero: queue.cleared carries only Cancelled
// and OccurredAt.
type Event struct {
	Type         string `json:"type"`
	TicketNumber uint64 `json:"ticket_number,omitempty"`
	PersonID     uint64 `json:"person_id,omitempty"`
	Faculty      string `json:"faculty,omitempty"`
	Position     uint32 `json:"position,omitempty"`
	Concern      string `json:"concern,omitempty"`
	Cancelled    int64  `json:"cancelled,omitempty"`
	OccurredAt   string `json:"occurred_at"`
}
