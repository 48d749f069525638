package fitness

import "fmt"

// NotFoundError reports a missing record. Records owned by someone else are
// reported the same way.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Label() string { return e.Kind + "NotFound" }

// ConflictError reports a record that already exists.
type ConflictError struct {
	Kind string
	Name string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s %q already exists", e.Kind, e.Name) }

func (e *ConflictError) Label() string { return e.Kind + "Exists" }
