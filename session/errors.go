package session

import "errors"

var (
	// ErrStillSaving is returned when an operation needs a durable id but the entity
	// still carries its placeholder.
	ErrStillSaving     = errors.New("still saving, please retry shortly")
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrNothingToRedo   = errors.New("nothing to redo")
	ErrNotFound        = errors.New("entity not found")
	ErrSyncFailed      = errors.New("sync failed, refreshing may lose recent changes")
	ErrSessionClosed   = errors.New("session closed")
	ErrInvalidArgument = errors.New("invalid argument")
)
