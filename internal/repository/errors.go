// Package repository defines sentinel error values shared across the
// repositories. Higher layers such as the queue service compare against
// these with errors.Is to distinguish failure scenarios without
// inspecting database driver errors directly.
package repository

import "errors"

// ErrPersonNotFound is returned when a directory lookup by id or name
// matches no row.
var ErrPersonNotFound = errors.New("person not found")

// ErrTicketNotFound is returned when a ticket lookup matches no row.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrCounterMissing is returned when the global ticket counter row is
// absent. The row is created by the schema migration; its absence means
// the database was not initialized.
var ErrCounterMissing = errors.New("ticket counter row missing")
