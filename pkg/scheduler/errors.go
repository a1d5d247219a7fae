package scheduler

import (
	"errors"

	"github.com/google/uuid"
)

// ErrRunActive is returned by Trigger when an unforced request targets a
// tier that already has a run in flight (§6: 409-equivalent).
var ErrRunActive = errors.New("a run for this tier is already active")

// ErrRunNotFound is returned by CancelRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// ErrConfigError is returned by Trigger for an unknown tier, mirroring the
// config_error error kind (§7): it refuses to start rather than guessing.
var ErrConfigError = errors.New("configuration error")

func newRunID() string {
	return uuid.NewString()
}
