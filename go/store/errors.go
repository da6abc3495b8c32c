package store

import "errors"

// ErrUnknownCamera is returned by SaveReading when serial_number does not
// match a registered camera; per spec.md §4.2 nothing is persisted.
var ErrUnknownCamera = errors.New("unknown camera")

// ErrNotFound is returned by lookup helpers when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotClaimed is returned by MarkSending when the row was not observed
// in {PENDING, FAILED} at claim time (lost the CAS race to another
// worker, or was already claimed) — spec.md §4.2: "Selection is advisory
// only — mark_sending is the real claim."
var ErrNotClaimed = errors.New("queue row not claimable")
