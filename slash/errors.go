package slash

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrCommandNotFound means neither the server nor the application
	// global scope declares the command. Jobs failing this way are disabled.
	ErrCommandNotFound = errors.New("slash command not found")

	// ErrBotNotAvailable means Discord answered with "unknown integration":
	// the target bot is not a member of the guild. The interaction may still
	// have been queued, so callers keep waiting for a reply.
	ErrBotNotAvailable = errors.New("bot not available in guild")

	// ErrNotInvokable is returned by an Invoker for a definition-only command
	// that cannot be called in-process.
	ErrNotInvokable = errors.New("command is not invokable in-process")
)

// unknownIntegrationCode is Discord's JSON error code for "Unknown integration".
const unknownIntegrationCode = 10005

// ExecutionError carries a non-success interaction response.
type ExecutionError struct {
	Status int
	Body   []byte
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("interaction failed with status %d: %s", e.Status, e.Body)
}
