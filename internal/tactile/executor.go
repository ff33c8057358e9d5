package tactile

import "context"

// Executor runs commands. Implementations must be safe for concurrent use.
type Executor interface {
	// Execute runs cmd to completion, timeout, or cancellation. The error
	// is non-nil only when cmd is invalid; process failures are reported
	// in the result.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error
}
