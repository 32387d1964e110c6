package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrUploadFailed is matched by every error returned when an object
	// could not be stored within the retry budget.
	ErrUploadFailed = errors.New("upload failed")

	// ErrFileTooLarge is returned for files above the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")

	// errNoDescriptor is the per-attempt failure of a gateway that returned
	// neither an object nor an error.
	errNoDescriptor = errors.New("storage returned no object descriptor")
)

// Error reports an object that could not be uploaded.
type Error struct {
	// Source is the local file or directory the object was built from. It
	// is empty for the index page listing the roots.
	Source string

	// Target is the object name.
	Target string

	// Attempts is the number of tries made.
	Attempts int

	// Err is the failure of the last attempt.
	Err error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to upload %s after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
	}

	return fmt.Sprintf("failed to upload %s to %s after %d attempt(s): %v",
		e.Source, e.Target, e.Attempts, e.Err)
}

// Unwrap exposes both ErrUploadFailed and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{ErrUploadFailed, e.Err}
}
