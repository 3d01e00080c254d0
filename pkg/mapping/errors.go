package mapping

import "errors"

var (
	ErrUnknownType        = errors.New("unknown record type")
	ErrIncompleteIdentity = errors.New("incomplete attribute set")
	ErrEmptyKey           = errors.New("record has no canonical key")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTransition  = errors.New("invalid status transition")
)
