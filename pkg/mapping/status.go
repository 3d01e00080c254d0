package mapping

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusUnmapped  Status = "unmapped"
	StatusCreated   Status = "created"
	StatusMapped    Status = "mapped"
	StatusValidated Status = "validated"
	StatusOrphaned  Status = "orphaned"
)

// ParseStatus accepts any casing of a known status. An empty string is an
// error; callers that want a default must apply it themselves.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusUnmapped, StatusCreated, StatusMapped, StatusValidated, StatusOrphaned:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

var transitions = map[Status][]Status{
	StatusUnmapped: {StatusCreated, StatusMapped},
	StatusCreated:  {StatusMapped},
	StatusOrphaned: {StatusUnmapped, StatusCreated, StatusMapped},
}

// CanTransition reports whether a record may move from one status to
// another. Validation and orphaning are reachable from every state.
func CanTransition(from, to Status) bool {
	if from == to || to == StatusValidated || to == StatusOrphaned {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
