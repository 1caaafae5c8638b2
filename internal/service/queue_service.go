package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dan09-stack/qcea-queue/internal/model"
	"github.com/dan09-stack/qcea-queue/internal/repository"
)

// maxTxAttempts bounds the automatic retry of transaction conflicts.
// Deadlocks between two requesters racing for the same faculty are the
// expected concurrent case, not an edge case.
const maxTxAttempts = 3

// QueueService owns ticket issuance, queue-position computation,
// faculty load counters and bulk cancellation. All mutations are
// single transactions over row locks: the requester row, the faculty
// row and the global counter row, in that order.
type QueueService struct {
	db      *sql.DB
	persons *repository.PersonRepo
	tickets *repository.TicketRepo
	now     func() time.Time
}

// NewQueueService constructs a QueueService. The now function supplies
// wall-clock time and defaults to time.Now when nil; tests inject a
// fixed clock.
func NewQueueService(db *sql.DB, persons *repository.PersonRepo, tickets *repository.TicketRepo, now func() time.Time) *QueueService {
	if db == nil || persons == nil || tickets == nil {
		panic("nil dependency passed to NewQueueService")
	}
	if now == nil {
		now = time.Now
	}
	return &QueueService{db: db, persons: persons, tickets: tickets, now: now}
}

// retryable reports whether err is a MySQL deadlock (1213) or lock
// wait timeout (1205), both of which are safe to retry on a fresh
// transaction. Only the driver's typed error qualifies: matching on
// error text would misclassify domain errors whose message happens to
// contain those digits.
func retryable(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && (me.Number == 1213 || me.Number == 1205)
}

// inTx runs fn inside a transaction with bounded retry on conflicts.
// fn must be idempotent across attempts; it sees a fresh *sql.Tx each
// time. Exhausted retries surface as TransientError.
func (s *QueueService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return &TransientError{Err: err}
		}
		committed := false
		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			committed = err == nil
		}
		if !committed {
			_ = tx.Rollback()
		}
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		log.Printf("queue: transaction conflict (attempt %d/%d): %v", attempt, maxTxAttempts, err)
	}
	return &TransientError{Err: lastErr}
}

// RequestQueue issues a ticket for a student or visitor against an
// AVAILABLE faculty member. Position computation, counter increment,
// ticket insert and faculty load bump all happen in one transaction,
// so concurrent requesters for the same faculty receive strictly
// increasing positions and globally unique ticket numbers.
func (s *QueueService) RequestQueue(ctx context.Context, personID uint64, facultyName, concern, otherConcern, details string) (*model.Ticket, error) {
	facultyName = strings.TrimSpace(facultyName)
	if facultyName == "" {
		return nil, &ValidationError{Reason: "faculty name is required"}
	}
	if strings.TrimSpace(concern) == "" && strings.TrimSpace(otherConcern) == "" {
		return nil, &ValidationError{Reason: "concern is required"}
	}

	var ticket *model.Ticket
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ticket = nil
		person, err := s.persons.GetForUpdateTx(ctx, tx, personID)
		if err != nil {
			if errors.Is(err, repository.ErrPersonNotFound) {
				return &NotFoundError{Entity: "person", Key: strconv.FormatUint(personID, 10)}
			}
			return err
		}
		if person.Role != model.RoleStudent && person.Role != model.RoleVisitor {
			return &ValidationError{Reason: "only students and visitors can request a queue"}
		}
		if _, err := s.tickets.ActiveByPersonTx(ctx, tx, personID); err == nil {
			return &ValidationError{Reason: "person already has an active ticket"}
		} else if !errors.Is(err, repository.ErrTicketNotFound) {
			return err
		}
		faculty, err := s.persons.GetByNameForUpdateTx(ctx, tx, facultyName)
		if err != nil {
			if errors.Is(err, repository.ErrPersonNotFound) {
				return &NotFoundError{Entity: "faculty", Key: facultyName}
			}
			return err
		}
		if faculty.Role != model.RoleFaculty {
			return &NotFoundError{Entity: "faculty", Key: facultyName}
		}
		if faculty.Presence != model.PresenceAvailable {
			return &ValidationError{Reason: "faculty unavailable"}
		}

		waiting, err := s.tickets.CountWaitingTx(ctx, tx, faculty.ID)
		if err != nil {
			return err
		}
		number, err := s.tickets.NextNumberTx(ctx, tx)
		if err != nil {
			return err
		}
		t := model.Ticket{
			TicketNumber:  number,
			PersonID:      person.ID,
			FacultyID:     faculty.ID,
			FacultyName:   faculty.FullName,
			Concern:       strings.TrimSpace(concern),
			OtherConcern:  strings.TrimSpace(otherConcern),
			Details:       strings.TrimSpace(details),
			Status:        model.TicketWaiting,
			QueuePosition: waiting + 1,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.tickets.CreateTx(ctx, tx, &t); err != nil {
			return err
		}
		if err := s.persons.SetLoadTx(ctx, tx, faculty.ID, faculty.NumOnQueue+1); err != nil {
			return err
		}
		ticket = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// CancelResult reports the outcome of CancelQueue. AlreadyInactive is
// true when the person had no active ticket: repeating a cancel is a
// no-op, never a second counter decrement.
type CancelResult struct {
	Ticket          *model.Ticket `json:"ticket,omitempty"`
	AlreadyInactive bool          `json:"already_inactive"`
	FacultyName     string        `json:"faculty_name,omitempty"`
}

// CancelQueue cancels the person's active ticket and decrements the
// assigned faculty's load counter, floored at zero. Idempotent.
func (s *QueueService) CancelQueue(ctx context.Context, personID uint64) (*CancelResult, error) {
	var result *CancelResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = nil
		ticket, err := s.tickets.ActiveByPersonTx(ctx, tx, personID)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				result = &CancelResult{AlreadyInactive: true}
				return nil
			}
			return err
		}
		faculty, err := s.persons.GetForUpdateTx(ctx, tx, ticket.FacultyID)
		if err != nil {
			return err
		}
		if err := s.tickets.CloseTx(ctx, tx, ticket.ID, model.TicketCancelled, s.now()); err != nil {
			return err
		}
		if faculty.DisplayedTicket != nil && *faculty.DisplayedTicket == ticket.TicketNumber {
			if err := s.persons.SetDisplayedTicketTx(ctx, tx, faculty.ID, nil); err != nil {
				return err
			}
		}
		// SERVING tickets already left the WAITING count when called.
		if ticket.Status == model.TicketWaiting {
			if faculty.NumOnQueue == 0 {
				log.Printf("queue: consistency: num_on_queue for %q already 0 while cancelling ticket %d; clamping",
					faculty.FullName, ticket.TicketNumber)
			} else if err := s.persons.SetLoadTx(ctx, tx, faculty.ID, faculty.NumOnQueue-1); err != nil {
				return err
			}
		}
		closed := ticket
		closed.Status = model.TicketCancelled
		result = &CancelResult{Ticket: &closed, FacultyName: faculty.FullName}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelAllQueues cancels every active ticket and resets every faculty
// load counter and displayed ticket in one transaction. Partial
// application is impossible: either all tickets are cancelled and all
// counters zeroed, or nothing changed. Returns the number of tickets
// cancelled.
func (s *QueueService) CancelAllQueues(ctx context.Context) (int64, error) {
	return s.cancelAll(ctx, false)
}

// CancelAllAndSuspend is CancelAllQueues plus taking every faculty
// member OFFLINE, still within the single transaction. Used by the
// after-hours policy.
func (s *QueueService) CancelAllAndSuspend(ctx context.Context) (int64, error) {
	return s.cancelAll(ctx, true)
}

func (s *QueueService) cancelAll(ctx context.Context, suspend bool) (int64, error) {
	var cancelled int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := s.tickets.CancelAllActiveTx(ctx, tx, s.now())
		if err != nil {
			return err
		}
		if err := s.persons.ResetAllFacultyTx(ctx, tx); err != nil {
			return err
		}
		if suspend {
			if err := s.persons.SetAllFacultyPresenceTx(ctx, tx, model.PresenceOffline); err != nil {
				return err
			}
		}
		cancelled = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}

// CallNextTicket advances service for a faculty member: the currently
// displayed ticket (if still SERVING) is marked COMPLETED and the
// lowest-numbered WAITING ticket is promoted to SERVING and displayed.
// Returns nil without error when the queue is empty.
func (s *QueueService) CallNextTicket(ctx context.Context, facultyName string) (*model.Ticket, error) {
	var next *model.Ticket
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		next = nil
		faculty, err := s.persons.GetByNameForUpdateTx(ctx, tx, facultyName)
		if err != nil {
			if errors.Is(err, repository.ErrPersonNotFound) {
				return &NotFoundError{Entity: "faculty", Key: facultyName}
			}
			return err
		}
		if faculty.Role != model.RoleFaculty {
			return &NotFoundError{Entity: "faculty", Key: facultyName}
		}
		if faculty.DisplayedTicket != nil {
			current, err := s.tickets.GetByNumberTx(ctx, tx, *faculty.DisplayedTicket)
			if err != nil && !errors.Is(err, repository.ErrTicketNotFound) {
				return err
			}
			if err == nil && current.Status == model.TicketServing {
				if err := s.tickets.CloseTx(ctx, tx, current.ID, model.TicketCompleted, s.now()); err != nil {
					return err
				}
			}
		}
		candidate, err := s.tickets.LowestWaitingTx(ctx, tx, faculty.ID)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				return s.persons.SetDisplayedTicketTx(ctx, tx, faculty.ID, nil)
			}
			return err
		}
		if err := s.tickets.MarkServingTx(ctx, tx, candidate.ID); err != nil {
			return err
		}
		if err := s.persons.SetDisplayedTicketTx(ctx, tx, faculty.ID, &candidate.TicketNumber); err != nil {
			return err
		}
		if faculty.NumOnQueue == 0 {
			log.Printf("queue: consistency: num_on_queue for %q already 0 while calling ticket %d; clamping",
				faculty.FullName, candidate.TicketNumber)
		} else if err := s.persons.SetLoadTx(ctx, tx, faculty.ID, faculty.NumOnQueue-1); err != nil {
			return err
		}
		promoted := candidate
		promoted.Status = model.TicketServing
		next = &promoted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// SetFacultyPresence updates a faculty member's availability.
func (s *QueueService) SetFacultyPresence(ctx context.Context, facultyName string, presence model.PresenceStatus) error {
	if !model.ValidPresence(presence) {
		return &ValidationError{Reason: "invalid presence status"}
	}
	err := s.persons.UpdatePresence(ctx, facultyName, presence)
	if errors.Is(err, repository.ErrPersonNotFound) {
		return &NotFoundError{Entity: "faculty", Key: facultyName}
	}
	return err
}

// Snapshot is the live view of one faculty queue: WAITING tickets in
// ticket-number order, the ticket being served and the one after it.
type Snapshot struct {
	Faculty    string               `json:"faculty"`
	Presence   model.PresenceStatus `json:"presence"`
	NumOnQueue uint32               `json:"num_on_queue"`
	Waiting    []model.Ticket       `json:"waiting"`
	Displayed  *model.Ticket        `json:"displayed,omitempty"`
	Next       *model.Ticket        `json:"next,omitempty"`
}

// QueueSnapshot returns the ordered queue for a faculty member. Pure
// read, no side effects.
func (s *QueueService) QueueSnapshot(ctx context.Context, facultyName string) (*Snapshot, error) {
	faculty, err := s.persons.FindByName(ctx, facultyName)
	if err != nil {
		if errors.Is(err, repository.ErrPersonNotFound) {
			return nil, &NotFoundError{Entity: "faculty", Key: facultyName}
		}
		return nil, err
	}
	if faculty.Role != model.RoleFaculty {
		return nil, &NotFoundError{Entity: "faculty", Key: facultyName}
	}
	waiting, err := s.tickets.ListWaiting(ctx, faculty.ID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Faculty:    faculty.FullName,
		Presence:   faculty.Presence,
		NumOnQueue: faculty.NumOnQueue,
		Waiting:    waiting,
	}
	if faculty.DisplayedTicket != nil {
		displayed, err := s.tickets.GetByNumber(ctx, *faculty.DisplayedTicket)
		if err == nil {
			snap.Displayed = &displayed
		} else if !errors.Is(err, repository.ErrTicketNotFound) {
			return nil, err
		}
	}
	snap.Next = nextAfter(waiting, snap.Displayed)
	return snap, nil
}

// nextAfter picks the first waiting ticket numbered after the displayed
// one, or the head of the queue when nothing is displayed. Waiting must
// be sorted by ticket number ascending.
func nextAfter(waiting []model.Ticket, displayed *model.Ticket) *model.Ticket {
	for i := range waiting {
		if displayed == nil || waiting[i].TicketNumber > displayed.TicketNumber {
			return &waiting[i]
		}
	}
	return nil
}

