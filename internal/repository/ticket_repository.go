package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/dan09-stack/qcea-queue/internal/model"
)

// TicketRepo provides access to the `tickets` table and the global
// ticket counter.  Tickets are append-only: lifecycle transitions
// update status and closed_at but rows are never deleted, so the table
// retains full queue history.  All timestamps are stored in UTC.
type TicketRepo struct {
	DB *sql.DB
}

// NewTicketRepo returns a TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{DB: db} }

const ticketColumns = `t.id, t.ticket_number, t.person_id, t.faculty_id, p.full_name, t.concern, t.other_concern, t.details, t.status, t.queue_position, t.created_at, t.closed_at`

const ticketFrom = ` FROM tickets t JOIN persons p ON p.id = t.faculty_id `

func scanTicket(row personScanner) (model.Ticket, error) {
	var t model.Ticket
	var closed sql.NullTime
	err := row.Scan(&t.ID, &t.TicketNumber, &t.PersonID, &t.FacultyID, &t.FacultyName,
		&t.Concern, &t.OtherConcern, &t.Details, &t.Status, &t.QueuePosition,
		&t.CreatedAt, &closed)
	if err != nil {
		return model.Ticket{}, err
	}
	if closed.Valid {
		ct := closed.Time
		t.ClosedAt = &ct
	}
	return t, nil
}

// NextNumberTx increments the global ticket counter and returns the new
// value. The UPDATE locks the counter row, so concurrent issuers are
// serialized and no two tickets can observe the same number.
func (r *TicketRepo) NextNumberTx(ctx context.Context, tx *sql.Tx) (uint64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'ticket_number'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrCounterMissing
	}
	var value uint64
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = 'ticket_number'`).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// CountWaitingTx returns the number of WAITING tickets assigned to the
// faculty. Called with the faculty row already locked, so the count is
// stable for the rest of the transaction.
func (r *TicketRepo) CountWaitingTx(ctx context.Context, tx *sql.Tx, facultyID uint64) (uint32, error) {
	var n uint32
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE faculty_id = ? AND status = ?`,
		facultyID, model.TicketWaiting).Scan(&n)
	return n, err
}

// CreateTx inserts a new ticket row and populates the generated ID on
// the provided ticket.
func (r *TicketRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.Ticket) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tickets (ticket_number, person_id, faculty_id, concern, other_concern, details, status, queue_position, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TicketNumber, t.PersonID, t.FacultyID, t.Concern, t.OtherConcern,
		t.Details, t.Status, t.QueuePosition, t.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// ActiveByPersonTx fetches the person's WAITING or SERVING ticket and
// locks it. Returns ErrTicketNotFound when the person has no active
// ticket.
func (r *TicketRepo) ActiveByPersonTx(ctx context.Context, tx *sql.Tx, personID uint64) (model.Ticket, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+ticketFrom+`WHERE t.person_id = ? AND t.status IN (?, ?) LIMIT 1 FOR UPDATE`,
		personID, model.TicketWaiting, model.TicketServing)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return model.Ticket{}, ErrTicketNotFound
	}
	return t, err
}

// LowestWaitingTx fetches the WAITING ticket with the smallest ticket
// number for the faculty and locks it. Returns ErrTicketNotFound when
// the faculty queue is empty.
func (r *TicketRepo) LowestWaitingTx(ctx context.Context, tx *sql.Tx, facultyID uint64) (model.Ticket, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+ticketFrom+`WHERE t.faculty_id = ? AND t.status = ? ORDER BY t.ticket_number ASC LIMIT 1 FOR UPDATE`,
		facultyID, model.TicketWaiting)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return model.Ticket{}, ErrTicketNotFound
	}
	return t, err
}

// GetByNumberTx fetches a ticket by its global number and locks it.
func (r *TicketRepo) GetByNumberTx(ctx context.Context, tx *sql.Tx, number uint64) (model.Ticket, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+ticketFrom+`WHERE t.ticket_number = ? FOR UPDATE`, number)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return model.Ticket{}, ErrTicketNotFound
	}
	return t, err
}

// GetByNumber fetches a ticket by its global number without locking.
func (r *TicketRepo) GetByNumber(ctx context.Context, number uint64) (model.Ticket, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+ticketColumns+ticketFrom+`WHERE t.ticket_number = ?`, number)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return model.Ticket{}, ErrTicketNotFound
	}
	return t, err
}

// MarkServingTx transitions a ticket to SERVING.
func (r *TicketRepo) MarkServingTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = ? WHERE id = ?`, model.TicketServing, id)
	return err
}

// CloseTx transitions a ticket to a terminal status (CANCELLED or
// COMPLETED) and records the closing time.
func (r *TicketRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, status model.TicketStatus, closedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = ?, closed_at = ? WHERE id = ?`,
		status, closedAt.UTC(), id)
	return err
}

// CancelAllActiveTx cancels every WAITING and SERVING ticket and
// returns the number of rows affected. Runs inside the bulk-cancel
// transaction so it is all-or-nothing with the faculty counter reset.
func (r *TicketRepo) CancelAllActiveTx(ctx context.Context, tx *sql.Tx, closedAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = ?, closed_at = ? WHERE status IN (?, ?)`,
		model.TicketCancelled, closedAt.UTC(), model.TicketWaiting, model.TicketServing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListWaiting returns the WAITING tickets for a faculty ordered by
// ticket number ascending. Pure read used by queue snapshots.
func (r *TicketRepo) ListWaiting(ctx context.Context, facultyID uint64) ([]model.Ticket, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+ticketColumns+ticketFrom+`WHERE t.faculty_id = ? AND t.status = ? ORDER BY t.ticket_number ASC`,
		facultyID, model.TicketWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets := make([]model.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}
