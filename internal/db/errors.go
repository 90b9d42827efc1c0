package db

import "errors"

// ErrNotFound is returned when a lookup by identifier matches no row.
// Callers distinguish it from transport failures with errors.Is.
var ErrNotFound = errors.New("not found")
