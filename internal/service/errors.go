package service

import "errors"

// Failure taxonomy surfaced to callers. Anything else coming out of a store
// is a storage failure wrapped with its cause; idempotent reads may be
// retried, sends must not be blindly retried (a retry can double-insert).
var (
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMissingID        = errors.New("required identifier missing")
	ErrRoomClosed       = errors.New("room is closed")
	ErrPermissionDenied = errors.New("permission denied")
)
