package model

import "time"

// Role classifies a directory entry.  Students and visitors request
// queue tickets; faculty serve them; admins manage the system.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleVisitor Role = "VISITOR"
	RoleAdmin   Role = "ADMIN"
)

// PresenceStatus describes whether a faculty member is accepting queue
// requests.  It applies only to persons with RoleFaculty; requester
// lifecycle lives on the ticket (TicketStatus), not here.
type PresenceStatus string

const (
	PresenceAvailable   PresenceStatus = "AVAILABLE"
	PresenceUnavailable PresenceStatus = "UNAVAILABLE"
	PresenceOffline     PresenceStatus = "OFFLINE"
)

// ValidPresence reports whether s is one of the known presence values.
func ValidPresence(s PresenceStatus) bool {
	switch s {
	case PresenceAvailable, PresenceUnavailable, PresenceOffline:
		return true
	}
	return false
}

// Person mirrors the `persons` table.  NumOnQueue is a maintained
// counter equal to the number of WAITING tickets assigned to this
// faculty member; it is only ever updated inside the same transaction
// as the ticket state change it reflects.  DisplayedTicket holds the
// ticket number currently being served by this faculty member.
//
// Fields:
//  ID              – primary key identifier.
//  FullName        – unique display name; tickets reference faculty by it.
//  Role            – STUDENT, FACULTY, VISITOR or ADMIN.
//  Email, Phone    – contact fields, not relevant to queue semantics.
//  Program         – department code, used to prefix printed ticket labels.
//  Presence        – faculty availability; zero value for non-faculty.
//  NumOnQueue      – count of WAITING tickets assigned to this faculty.
//  DisplayedTicket – ticket number being served (nil when idle).
type Person struct {
	ID              uint64         `json:"id"`
	FullName        string         `json:"full_name"`
	Role            Role           `json:"role"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	Program         string         `json:"program,omitempty"`
	Presence        PresenceStatus `json:"presence,omitempty"`
	NumOnQueue      uint32         `json:"num_on_queue"`
	DisplayedTicket *uint64        `json:"displayed_ticket,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
