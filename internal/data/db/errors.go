package db

import "errors"

// ErrNameRequired is returned when a target is created or updated with an
// empty display name.
var ErrNameRequired = errors.New("target name cannot be empty")

// ErrNotFound is returned when a record does not exist for the caller.
var ErrNotFound = errors.New("record not found")

// ErrAccessDenied is returned when a caller reads a record owned by a
// different user. It fails closed: no partial data is returned.
var ErrAccessDenied = errors.New("access denied")

// ErrStatusConflict is returned when a guarded status transition is not
// permitted from the target's current status.
var ErrStatusConflict = errors.New("target status does not permit transition")
