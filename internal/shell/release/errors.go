package release

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Build context errors
	ErrContextNotFound    = errors.New("build context not found")
	ErrDockerfileNotFound = errors.New("dockerfile not found in build context")

	// Image errors
	ErrBuildFailed = errors.New("image build failed")
	ErrPushFailed  = errors.New("image push failed")

	// Deploy errors
	ErrDeployFailed    = errors.New("deploy failed")
	ErrOperationFailed = errors.New("cloud run operation failed")
	ErrTrafficFailed   = errors.New("traffic update failed")

	ErrCredentials = errors.New("invalid registry credentials")
)

// ReleaseError wraps errors with additional context.
type ReleaseError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (context, image, service)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *ReleaseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}

// NewReleaseError creates a new ReleaseError.
func NewReleaseError(op, entity, id, message string, err error) *ReleaseError {
	return &ReleaseError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
