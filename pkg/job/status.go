package job

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a job execution.
type Status string

const (
	StatusNew                 Status = "NEW"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusCompleted           Status = "COMPLETED"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusFail                Status = "FAIL"
)

// ErrInvalidTransition is the sentinel wrapped by TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError reports a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFail:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusCompleted, StatusCompletedWithErrors, StatusFail:
		return true
	default:
		return false
	}
}

// ParseStatus converts a stored or user supplied value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", v)
	}
	return s, nil
}

// ValidateTransition checks whether a job may move from one status to another.
// IN_PROGRESS is re-entrant so progress can be refreshed mid-run.
func ValidateTransition(from, to Status) error {
	if !isValidTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

func isValidTransition(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusInProgress || to == StatusFail
	case StatusInProgress:
		switch to {
		case StatusInProgress, StatusCompleted, StatusCompletedWithErrors, StatusFail:
			return true
		}
		return false
	default:
		return false
	}
}

// UnitStatus is the lifecycle state of an export file unit.
type UnitStatus string

const (
	UnitPending   UnitStatus = "PENDING"
	UnitActive    UnitStatus = "ACTIVE"
	UnitCompleted UnitStatus = "COMPLETED"
	UnitFailed    UnitStatus = "FAILED"
)

// IsTerminal reports whether the unit can no longer change.
func (s UnitStatus) IsTerminal() bool {
	return s == UnitCompleted || s == UnitFailed
}

// FileDefinitionStatus tracks an uploaded identifier source.
type FileDefinitionStatus string

const (
	FileDefinitionNew        FileDefinitionStatus = "NEW"
	FileDefinitionInProgress FileDefinitionStatus = "IN_PROGRESS"
	FileDefinitionCompleted  FileDefinitionStatus = "COMPLETED"
	FileDefinitionError      FileDefinitionStatus = "ERROR"
)
