// ABOUTME: ID helpers: ULIDs for runs and worker sessions, UUIDs for private scratch file names.
// ABOUTME: Centralizes ID creation so all code uses the same entropy source.
package runner

import (
	"crypto/rand"
	"strconv"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewRunID returns a new ULID string identifying one Run Record.
func NewRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// newSessionID returns a ULID for a worker session.
func newSessionID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// scratchName returns a unique file name for a task's scratch instruction.
func scratchName(taskID int) string {
	return "task-" + strconv.Itoa(taskID) + "-" + uuid.NewString() + ".md"
}
