package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrConflict reports that another worker holds or changed the record.
	ErrConflict = errors.New("conflict")
	// ErrNotPending reports a transition requested on a record that left PENDING.
	ErrNotPending = errors.New("notification is not pending")
	// ErrStore wraps persistence infrastructure failures.
	ErrStore = errors.New("store unavailable")
	// ErrUnavailable reports a channel that refused work without a delivery
	// attempt being made; the record is left untouched.
	ErrUnavailable = errors.New("channel unavailable")
)
