package database

import "errors"

// ErrConflict is returned by PutSingletonCAS when expectVersion no longer
// matches the stored row (or the row already exists on a creating put).
var ErrConflict = errors.New("database: version conflict")
