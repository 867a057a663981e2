package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by primary key finds no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateInbound is returned when an inbound insert collides on
	// idempotency_key — the authoritative dedup signal for Ingress.
	ErrDuplicateInbound = errors.New("store: duplicate inbound message")
	// ErrStaleTransition is returned when a CAS-style status update finds
	// the row no longer in the expected prior state.
	ErrStaleTransition = errors.New("store: task or outbox row not in expected state")
)
