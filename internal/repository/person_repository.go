package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dan09-stack/qcea-queue/internal/model"
)

// PersonRepo provides access to the `persons` table: the directory of
// students, visitors, faculty and admins.  Methods with a Tx suffix
// operate inside a caller-owned transaction; the caller must commit or
// roll back.  Row locks taken via FOR UPDATE serialize concurrent
// queue mutations touching the same person.
type PersonRepo struct {
	DB *sql.DB
}

// NewPersonRepo returns a PersonRepo bound to the given database.
func NewPersonRepo(db *sql.DB) *PersonRepo { return &PersonRepo{DB: db} }

const personColumns = `id, full_name, role, email, phone, program, presence_status, num_on_queue, displayed_ticket, created_at, updated_at`

type personScanner interface {
	Scan(dest ...interface{}) error
}

func scanPerson(row personScanner) (model.Person, error) {
	var p model.Person
	var displayed sql.NullInt64
	err := row.Scan(&p.ID, &p.FullName, &p.Role, &p.Email, &p.Phone, &p.Program,
		&p.Presence, &p.NumOnQueue, &displayed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Person{}, err
	}
	if displayed.Valid {
		n := uint64(displayed.Int64)
		p.DisplayedTicket = &n
	}
	return p, nil
}

// FindByID fetches a person by primary key. Returns ErrPersonNotFound
// when no row matches.
func (r *PersonRepo) FindByID(ctx context.Context, id uint64) (model.Person, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = ? LIMIT 1`, id)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return model.Person{}, ErrPersonNotFound
	}
	return p, err
}

// FindByName fetches a person by their unique full name.
func (r *PersonRepo) FindByName(ctx context.Context, name string) (model.Person, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE full_name = ? LIMIT 1`,
		strings.TrimSpace(name))
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return model.Person{}, ErrPersonNotFound
	}
	return p, err
}

// FindByRole lists all persons with the given role ordered by name.
// When presence is non-empty the list is further restricted to that
// presence status (used to list AVAILABLE faculty).
func (r *PersonRepo) FindByRole(ctx context.Context, role model.Role, presence model.PresenceStatus) ([]model.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE role = ?`
	args := []interface{}{role}
	if presence != "" {
		query += ` AND presence_status = ?`
		args = append(args, presence)
	}
	query += ` ORDER BY full_name ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	persons := make([]model.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return persons, nil
}

// GetForUpdateTx fetches a person by id and locks the row for the
// duration of the transaction.
func (r *PersonRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Person, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = ? FOR UPDATE`, id)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return model.Person{}, ErrPersonNotFound
	}
	return p, err
}

// GetByNameForUpdateTx fetches a person by full name and locks the row.
// Locking the faculty row is what serializes concurrent requests for
// the same faculty member.
func (r *PersonRepo) GetByNameForUpdateTx(ctx context.Context, tx *sql.Tx, name string) (model.Person, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE full_name = ? FOR UPDATE`,
		strings.TrimSpace(name))
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return model.Person{}, ErrPersonNotFound
	}
	return p, err
}

// SetLoadTx writes an absolute num_on_queue value for a person. The
// caller computes the new value from a row it already holds a lock on,
// so a plain set is race-free and cannot underflow.
func (r *PersonRepo) SetLoadTx(ctx context.Context, tx *sql.Tx, id uint64, load uint32) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE persons SET num_on_queue = ? WHERE id = ?`, load, id)
	return err
}

// SetDisplayedTicketTx sets or clears (nil) the ticket number currently
// being served by a faculty member.
func (r *PersonRepo) SetDisplayedTicketTx(ctx context.Context, tx *sql.Tx, id uint64, ticketNumber *uint64) error {
	var v sql.NullInt64
	if ticketNumber != nil {
		v = sql.NullInt64{Int64: int64(*ticketNumber), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE persons SET displayed_ticket = ? WHERE id = ?`, v, id)
	return err
}

// ResetAllFacultyTx zeroes every faculty load counter and clears every
// displayed ticket. Used by the bulk cancel so counters and tickets
// change in the same transaction.
func (r *PersonRepo) ResetAllFacultyTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE persons SET num_on_queue = 0, displayed_ticket = NULL WHERE role = ?`,
		model.RoleFaculty)
	return err
}

// SetAllFacultyPresenceTx sets the presence of every faculty member.
// The after-hours policy uses this to take faculty offline together
// with the bulk cancel.
func (r *PersonRepo) SetAllFacultyPresenceTx(ctx context.Context, tx *sql.Tx, presence model.PresenceStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE persons SET presence_status = ? WHERE role = ?`,
		presence, model.RoleFaculty)
	return err
}

// UpdatePresence sets the presence of a single faculty member by name.
// Returns ErrPersonNotFound when no faculty row matches.
func (r *PersonRepo) UpdatePresence(ctx context.Context, name string, presence model.PresenceStatus) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE persons SET presence_status = ? WHERE full_name = ? AND role = ?`,
		presence, strings.TrimSpace(name), model.RoleFaculty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPersonNotFound
	}
	return nil
}
