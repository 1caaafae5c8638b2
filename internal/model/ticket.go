package model

import "time"

// TicketStatus is the lifecycle state of a queue ticket.  It is kept
// separate from PresenceStatus so requester lifecycle and faculty
// availability never share a field.
type TicketStatus string

const (
	TicketWaiting   TicketStatus = "WAITING"
	TicketServing   TicketStatus = "SERVING"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketCompleted TicketStatus = "COMPLETED"
)

// Active reports whether a ticket in this state still occupies its
// owner: a person with a WAITING or SERVING ticket may not open a
// second one.  CANCELLED and COMPLETED are re-enterable.
func (s TicketStatus) Active() bool {
	return s == TicketWaiting || s == TicketServing
}

// Ticket mirrors the `tickets` table.  Rows are append-only: a ticket
// is never deleted or overwritten by a later request, so the table
// doubles as queue history.  QueuePosition is the requester's rank
// among WAITING tickets for the assigned faculty at creation time; it
// is an informational snapshot and is never re-sequenced when earlier
// tickets cancel.
type Ticket struct {
	ID            uint64       `json:"id"`
	TicketNumber  uint64       `json:"ticket_number"`
	PersonID      uint64       `json:"person_id"`
	FacultyID     uint64       `json:"faculty_id"`
	FacultyName   string       `json:"faculty_name"`
	Concern       string       `json:"concern"`
	OtherConcern  string       `json:"other_concern,omitempty"`
	Details       string       `json:"details,omitempty"`
	Status        TicketStatus `json:"status"`
	QueuePosition uint32       `json:"queue_position"`
	CreatedAt     time.Time    `json:"created_at"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
}
