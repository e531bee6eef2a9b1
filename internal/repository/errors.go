// Package repository holds the SQL data access layer. Repositories accept
// ? placeholders and rebind them for the active dialect. Methods ending
// in Tx run inside a caller-owned transaction and never commit.
package repository

import "errors"

// ErrNotFound is returned when a lookup by id or code matches no row.
// Handlers translate it into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrConflict signals that a write collided with existing state, such as
// adding an admin twice. Handlers translate it into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned by UserRepo.Create for a duplicate email.
var ErrEmailExists = errors.New("email already exists")
