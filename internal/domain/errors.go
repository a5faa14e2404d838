package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrJobNotFound     = fmt.Errorf("job: %w", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("upload session: %w", ErrNotFound)

	ErrInvalidInput      = errors.New("invalid input")
	ErrNotOwner          = errors.New("caller does not own this job")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrWrongStatus       = errors.New("job is not in the required status")
	ErrAlreadyLocked     = errors.New("job is locked by another worker")
	ErrLockMismatch      = errors.New("lock id does not match the current holder")
	ErrIncompleteParts   = errors.New("upload has missing parts")
	ErrSessionNotActive  = errors.New("upload session is not active")
	ErrSourceNotReady    = errors.New("job has no stored source object")
	ErrUploadGone        = errors.New("multipart upload no longer exists")

	ErrRemoteFetchUnsupported = errors.New("server-side fetch no longer supported")
)

// TransitionError reports an event that is not legal from the job's current status.
type TransitionError struct {
	From  JobStatus
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition: %s does not accept %s", e.From, e.Event)
}

func (e *TransitionError) Unwrap() []error {
	if e.From.IsTerminal() {
		return []error{ErrInvalidTransition, ErrTerminal}
	}
	return []error{ErrInvalidTransition}
}

// WrongStatusError is returned by claim when the job cannot be handed to a worker.
type WrongStatusError struct {
	Status JobStatus
}

func (e *WrongStatusError) Error() string {
	return fmt.Sprintf("job is %s, expected %s", e.Status, JobStatusUploaded)
}

func (e *WrongStatusError) Unwrap() error { return ErrWrongStatus }

// IncompletePartsError names how many parts are still missing from an upload.
type IncompletePartsError struct {
	Missing int
	Total   int
}

func (e *IncompletePartsError) Error() string {
	return fmt.Sprintf("upload has missing parts: %d of %d not reported", e.Missing, e.Total)
}

func (e *IncompletePartsError) Unwrap() error { return ErrIncompleteParts }
