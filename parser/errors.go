package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports a cooperative abort observed at a stage
	// boundary. Accumulated state for the run is discarded.
	ErrCancelled = errors.New("parser: cancelled")
	// ErrBusy reports a second ParseFile on an engine whose run is
	// still in flight. An Engine serves exactly one parse at a time.
	ErrBusy = errors.New("parser: parse already in flight")
)

// ContainerError marks a malformed or missing required container entry:
// an unreadable PDF, a broken EPUB container.xml or OPF. It is fatal for
// the stage and propagates to the caller.
type ContainerError struct {
	Format Format
	Entry  string // offending container entry, empty for the whole file
	Err    error
}

func (e *ContainerError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("%s container: %s: %v", e.Format, e.Entry, e.Err)
	}
	return fmt.Sprintf("%s container: %v", e.Format, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// BadContainer wraps err as a ContainerError.
func BadContainer(format Format, entry string, err error) error {
	return &ContainerError{Format: format, Entry: entry, Err: err}
}
