// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package runtime

import "errors"

// fatalError marks a handler error as unrecoverable (spec.md §7: a handler
// logic error such as a topology message missing self). The driver
// propagates it out of Run instead of logging-and-continuing.
type fatalError struct {
	err error
}

// Fatal wraps err so the node's driver terminates the process instead of
// logging it and moving on to the next message.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// IsFatal reports whether err (or anything it wraps) was produced by Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
