package store

import "errors"

// ErrRowMissing indicates the targeted row was deleted between a read (e.g.
// GetDueTriggers) and a subsequent compound write.
var ErrRowMissing = errors.New("store: row missing")
