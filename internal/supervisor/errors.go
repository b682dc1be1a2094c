package supervisor

import (
	"errors"

	"github.com/warden-dev/warden/internal/store"
)

// ErrNotFound is returned when an operation references an unknown service id.
var ErrNotFound = store.ErrNotFound

// ErrAlreadyRunning is returned when a start request carries an explicit id
// that is already active.
var ErrAlreadyRunning = errors.New("service already running")

// ErrIDInUse is returned when a start request carries an explicit id that
// belongs to an existing record. Ids are never reused; the old record must
// be purged before the id becomes available again.
var ErrIDInUse = errors.New("service id already in use")

// ErrShutdownTimeout means a child survived the grace period and the forced
// kill was not confirmed in time. Fatal only for that child, never for the
// supervisor process.
var ErrShutdownTimeout = errors.New("service did not die within the grace period")

// ErrNotTerminal is returned when purge is requested for a service that is
// not in a terminal state.
var ErrNotTerminal = errors.New("service is not stopped, pinned or failing")
