package sentry

import (
	"fmt"
)

// FetchFailureKind classifies why imagery could not be retrieved.
type FetchFailureKind string

const (
	FetchTransport   FetchFailureKind = "transport"
	FetchStatus      FetchFailureKind = "status"
	FetchProvider    FetchFailureKind = "provider"
	FetchEmpty       FetchFailureKind = "empty"
	FetchCircuitOpen FetchFailureKind = "circuit_open"
	FetchUndecodable FetchFailureKind = "undecodable"
	FetchCanceled    FetchFailureKind = "canceled"
)

// FetchError is a per-key acquisition failure. The key is skipped for the run.
type FetchError struct {
	Key        Key
	Kind       FetchFailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.Key, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError is a baseline read or write failure for one key.
type StorageError struct {
	Key  Key
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("baseline %s %s (%s): %v", e.Op, e.Key, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
