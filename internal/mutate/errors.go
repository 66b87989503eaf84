package mutate

import (
	"errors"
	"fmt"
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CycleError reports a reparent that would make a node its own ancestor.
type CycleError struct {
	NodeID      string
	NewParentID string
}

func (e CycleError) Error() string {
	if e.NewParentID == "" {
		return fmt.Sprintf("cycle at node %s", e.NodeID)
	}
	return fmt.Sprintf("cannot move %s under %s: would create a cycle", e.NodeID, e.NewParentID)
}

// IDInUseError reports an attempt to bring back a record whose id is live again.
type IDInUseError struct {
	ID string
}

func (e IDInUseError) Error() string {
	return fmt.Sprintf("id in use: %s", e.ID)
}

var (
	ErrRootNode         = errors.New("root cannot be mutated")
	ErrInvalidColor     = errors.New("invalid color preset")
	ErrArchivedNotFound = errors.New("archived node not found")
	ErrMissingPayload   = errors.New("missing node payload")
)
