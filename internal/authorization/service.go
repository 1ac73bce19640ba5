package authorization

import (
	"context"
	"errors"
)

// Service decides whether an operator role may perform action on object.
type Service interface {
	Authorize(ctx context.Context, role string, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
