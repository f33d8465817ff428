// Package errors holds sentinel errors shared by the dispatch packages and a
// small collector for aggregating failures during teardown.
package errors

import "errors"

// ErrClosed is returned by components that were already torn down.
var ErrClosed = errors.New("closed")

// Collection is a thread-unsafe utility for accumulating multiple errors.
// Use this when several teardown steps must all run and their failures
// should be reported together.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// HasError returns true if the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// GetError returns nil for an empty collection, the error itself when there
// is exactly one, or an errors.Join of all of them.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}
