package service

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan09-stack/qcea-queue/internal/model"
	"github.com/dan09-stack/qcea-queue/internal/repository"
)

var fixedNow = time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*QueueService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewQueueService(db, repository.NewPersonRepo(db), repository.NewTicketRepo(db),
		func() time.Time { return fixedNow })
	return svc, mock
}

var personCols = []string{"id", "full_name", "role", "email", "phone", "program",
	"presence_status", "num_on_queue", "displayed_ticket", "created_at", "updated_at"}

func personRow(id int64, name string, role model.Role, presence model.PresenceStatus, load uint32, displayed interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(personCols).
		AddRow(id, name, string(role), "", "", "CEA", string(presence), load, displayed, fixedNow, fixedNow)
}

var ticketCols = []string{"id", "ticket_number", "person_id", "faculty_id", "full_name",
	"concern", "other_concern", "details", "status", "queue_position", "created_at", "closed_at"}

func ticketRow(id, number, personID, facultyID int64, faculty string, status model.TicketStatus, position uint32) *sqlmock.Rows {
	return sqlmock.NewRows(ticketCols).
		AddRow(id, number, personID, facultyID, faculty, "Billing", "", "", string(status), position, fixedNow, nil)
}

func TestRequestQueueIssuesTicket(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(personRow(7, "Alice Cruz", model.RoleStudent, "", 0, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`t.person_id = ? AND t.status IN (?, ?)`)).
		WithArgs(int64(7), "WAITING", "SERVING").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE full_name = ? FOR UPDATE`)).
		WithArgs("Dr. Reyes").
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceAvailable, 2, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM tickets WHERE faculty_id = ? AND status = ?`)).
		WithArgs(int64(3), "WAITING").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE counters SET value = value + 1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM counters`)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))
	mock.ExpectExec(`INSERT INTO tickets`).
		WithArgs(int64(42), int64(7), int64(3), "Billing", "", "", "WAITING", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET num_on_queue = ? WHERE id = ?`)).
		WithArgs(int64(3), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ticket, err := svc.RequestQueue(context.Background(), 7, "Dr. Reyes", "Billing", "", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), ticket.TicketNumber)
	assert.Equal(t, uint32(3), ticket.QueuePosition)
	assert.Equal(t, model.TicketWaiting, ticket.Status)
	assert.Equal(t, "Dr. Reyes", ticket.FacultyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestQueueRejectsUnavailableFaculty(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(personRow(7, "Alice Cruz", model.RoleStudent, "", 0, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`t.person_id = ? AND t.status IN (?, ?)`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE full_name = ? FOR UPDATE`)).
		WithArgs("Dr. Reyes").
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceUnavailable, 0, nil))
	mock.ExpectRollback()

	_, err := svc.RequestQueue(context.Background(), 7, "Dr. Reyes", "Billing", "", "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.EqualError(t, err, "faculty unavailable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestQueueRejectsDuplicateActiveTicket(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(personRow(7, "Alice Cruz", model.RoleStudent, "", 0, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`t.person_id = ? AND t.status IN (?, ?)`)).
		WillReturnRows(ticketRow(10, 42, 7, 3, "Dr. Reyes", model.TicketWaiting, 1))
	mock.ExpectRollback()

	_, err := svc.RequestQueue(context.Background(), 7, "Dr. Reyes", "Billing", "", "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestQueueRejectsMissingConcern(t *testing.T) {
	svc, mock := newTestService(t)
	_, err := svc.RequestQueue(context.Background(), 7, "Dr. Reyes", "  ", "", "notes")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestQueueMissingPersonIsNotRetried(t *testing.T) {
	svc, mock := newTestService(t)

	// Person ID 1213 collides with the MySQL deadlock code in the
	// rendered error text. The lookup failure must surface as a single
	// not-found, never as a retried transaction conflict.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(1213)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.RequestQueue(context.Background(), 1213, "Dr. Reyes", "Billing", "", "")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelQueueDecrementsLoad(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`t.person_id = ? AND t.status IN (?, ?)`)).
		WithArgs(int64(7), "WAITING", "SERVING").
		WillReturnRows(ticketRow(10, 42, 7, 3, "Dr. Reyes", model.TicketWaiting, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceAvailable, 1, nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ?, closed_at = ? WHERE id = ?`)).
		WithArgs("CANCELLED", sqlmock.AnyArg(), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET num_on_queue = ? WHERE id = ?`)).
		WithArgs(int64(0), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.CancelQueue(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, result.AlreadyInactive)
	assert.Equal(t, model.TicketCancelled, result.Ticket.Status)
	assert.Equal(t, "Dr. Reyes", result.FacultyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelQueueIsIdempotent(t *testing.T) {
	svc, mock := newTestService(t)

	// No active ticket: the cancel reports already-inactive and issues
	// no writes, so a repeated cancel can never double-decrement.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`t.person_id = ? AND t.status IN (?, ?)`)).
		WithArgs(int64(7), "WAITING", "SERVING").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	result, err := svc.CancelQueue(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, result.AlreadyInactive)
	assert.Nil(t, result.Ticket)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelQueueClampsDriftedCounter(t *testing.T) {
	svc, mock := newTestService(t)

	// Faculty counter already at zero: the cancel must not write a
	// negative load, only close the ticket.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`t.person_id = ? AND t.status IN (?, ?)`)).
		WillReturnRows(ticketRow(10, 42, 7, 3, "Dr. Reyes", model.TicketWaiting, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceAvailable, 0, nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ?, closed_at = ? WHERE id = ?`)).
		WithArgs("CANCELLED", sqlmock.AnyArg(), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.CancelQueue(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, result.AlreadyInactive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAllQueuesIsSingleTransaction(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ?, closed_at = ? WHERE status IN (?, ?)`)).
		WithArgs("CANCELLED", sqlmock.AnyArg(), "WAITING", "SERVING").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET num_on_queue = 0, displayed_ticket = NULL WHERE role = ?`)).
		WithArgs("FACULTY").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	cancelled, err := svc.CancelAllQueues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAllQueuesRollsBackOnFailure(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ?, closed_at = ? WHERE status IN (?, ?)`)).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET num_on_queue = 0, displayed_ticket = NULL WHERE role = ?`)).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := svc.CancelAllQueues(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAllQueuesRetriesDeadlock(t *testing.T) {
	svc, mock := newTestService(t)

	// First attempt deadlocks; the service rolls back and retries on a
	// fresh transaction.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ?, closed_at = ? WHERE status IN (?, ?)`)).
		WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ?, closed_at = ? WHERE status IN (?, ?)`)).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET num_on_queue = 0, displayed_ticket = NULL WHERE role = ?`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	cancelled, err := svc.CancelAllQueues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallNextTicketPromotesLowestWaiting(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE full_name = ? FOR UPDATE`)).
		WithArgs("Dr. Reyes").
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceAvailable, 2, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`t.faculty_id = ? AND t.status = ? ORDER BY t.ticket_number ASC LIMIT 1 FOR UPDATE`)).
		WithArgs(int64(3), "WAITING").
		WillReturnRows(ticketRow(10, 42, 7, 3, "Dr. Reyes", model.TicketWaiting, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = ? WHERE id = ?`)).
		WithArgs("SERVING", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET displayed_ticket = ? WHERE id = ?`)).
		WithArgs(sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET num_on_queue = ? WHERE id = ?`)).
		WithArgs(int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ticket, err := svc.CallNextTicket(context.Background(), "Dr. Reyes")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, uint64(42), ticket.TicketNumber)
	assert.Equal(t, model.TicketServing, ticket.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallNextTicketEmptyQueueClearsDisplay(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE full_name = ? FOR UPDATE`)).
		WithArgs("Dr. Reyes").
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceAvailable, 0, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`t.faculty_id = ? AND t.status = ? ORDER BY t.ticket_number ASC LIMIT 1 FOR UPDATE`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE persons SET displayed_ticket = ? WHERE id = ?`)).
		WithArgs(sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ticket, err := svc.CallNextTicket(context.Background(), "Dr. Reyes")
	require.NoError(t, err)
	assert.Nil(t, ticket)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueSnapshotComposesDisplayedAndNext(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE full_name = ? LIMIT 1`)).
		WithArgs("Dr. Reyes").
		WillReturnRows(personRow(3, "Dr. Reyes", model.RoleFaculty, model.PresenceAvailable, 2, int64(42)))
	mock.ExpectQuery(regexp.QuoteMeta(`t.faculty_id = ? AND t.status = ? ORDER BY t.ticket_number ASC`)).
		WithArgs(int64(3), "WAITING").
		WillReturnRows(sqlmock.NewRows(ticketCols).
			AddRow(11, 43, 8, 3, "Dr. Reyes", "Billing", "", "", "WAITING", 1, fixedNow, nil).
			AddRow(12, 44, 9, 3, "Dr. Reyes", "Enrollment", "", "", "WAITING", 2, fixedNow, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE t.ticket_number = ?`)).
		WithArgs(int64(42)).
		WillReturnRows(ticketRow(10, 42, 7, 3, "Dr. Reyes", model.TicketServing, 1))

	snap, err := svc.QueueSnapshot(context.Background(), "Dr. Reyes")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Reyes", snap.Faculty)
	assert.Equal(t, model.PresenceAvailable, snap.Presence)
	assert.Equal(t, uint32(2), snap.NumOnQueue)
	require.Len(t, snap.Waiting, 2)
	require.NotNil(t, snap.Displayed)
	assert.Equal(t, uint64(42), snap.Displayed.TicketNumber)
	require.NotNil(t, snap.Next)
	assert.Equal(t, uint64(43), snap.Next.TicketNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueSnapshotRejectsNonFaculty(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM persons WHERE full_name = ? LIMIT 1`)).
		WithArgs("Alice Cruz").
		WillReturnRows(personRow(7, "Alice Cruz", model.RoleStudent, "", 0, nil))

	_, err := svc.QueueSnapshot(context.Background(), "Alice Cruz")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextAfter(t *testing.T) {
	mk := func(n uint64) model.Ticket { return model.Ticket{TicketNumber: n} }
	waiting := []model.Ticket{mk(5), mk(8), mk(9)}

	head := nextAfter(waiting, nil)
	require.NotNil(t, head)
	assert.Equal(t, uint64(5), head.TicketNumber)

	displayed := mk(5)
	next := nextAfter(waiting, &displayed)
	require.NotNil(t, next)
	assert.Equal(t, uint64(8), next.TicketNumber)

	last := mk(9)
	assert.Nil(t, nextAfter(waiting, &last))
	assert.Nil(t, nextAfter(nil, nil))
}
