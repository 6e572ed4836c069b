package service

import (
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

var (
	ErrPostNotFound           = errors.New("post not found")
	ErrInvalidStatus          = errors.New("invalid post status")
	ErrNothingToRetry         = errors.New("no failed platforms to retry")
	ErrConcurrentModification = errors.New("post was modified by another request")
	ErrInvalidInput           = errors.New("invalid input")
)

// StatusError reports an operation that is not allowed from the post's current status.
type StatusError struct {
	Action string
	Status models.PostStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Cannot %s post in %s status", e.Action, e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrInvalidStatus
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
