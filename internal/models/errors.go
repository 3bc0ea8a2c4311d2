package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Configuration error kinds. ValidationError unwraps to one of these.
var (
	ErrDuplicateName     = errors.New("duplicate device name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrIncompleteCheck   = errors.New("incomplete health check")
	ErrInvalidCheck      = errors.New("invalid health check")
	ErrInvalidDevice     = errors.New("invalid device definition")
)

// ValidationError is the single structured error returned when a device list
// cannot be turned into a dependency graph.
type ValidationError struct {
	Kind    error
	Device  string
	Members []string // cycle members, in traversal order
	Detail  string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Device != "" {
		fmt.Fprintf(&b, " (device %q)", e.Device)
	}
	if len(e.Members) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Members, " -> "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// DispatchError reports a local failure to hand the wake packet to the network.
type DispatchError struct {
	Device string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.Device, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// HealthCheckTimeoutError reports a health check that never passed within its budget.
type HealthCheckTimeoutError struct {
	Device     string
	Check      string
	Timeout    time.Duration
	Attempts   int
	LastDetail string
}

func (e *HealthCheckTimeoutError) Error() string {
	msg := fmt.Sprintf("health check %s for %s timed out after %s (%d attempts)",
		e.Check, e.Device, e.Timeout, e.Attempts)
	if e.LastDetail != "" {
		msg += ": " + e.LastDetail
	}
	return msg
}

// BlockedError is attached to a Blocked transition and names the dependency
// whose failure caused it.
type BlockedError struct {
	Device string
	By     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s blocked by %s", e.Device, e.By)
}
