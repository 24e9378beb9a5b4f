package dbexec

import "errors"

// ErrExecution matches every *ExecutionError.
var ErrExecution = errors.New("execution failed")

// ExecutionError is a driver failure reduced to its root cause message.
type ExecutionError struct {
	Message string
	cause   error
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.cause
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// newExecutionError peels wrapped causes down to the innermost error.
func newExecutionError(err error) *ExecutionError {
	root := RootCause(err)
	return &ExecutionError{Message: root.Error(), cause: err}
}

// RootCause follows Unwrap until the innermost error. Joined errors follow
// their first member.
func RootCause(err error) error {
	for err != nil {
		var next error
		switch e := err.(type) {
		case interface{ Unwrap() []error }:
			if errs := e.Unwrap(); len(errs) > 0 {
				next = errs[0]
			}
		default:
			next = errors.Unwrap(err)
		}
		if next == nil {
			return err
		}
		err = next
	}
	return err
}
