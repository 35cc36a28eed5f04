// Package rpcerr defines the channel-level error taxonomy shared by the
// client and server halves of an RPC channel: protocol violations,
// timeouts, destroyed locks, remote exceptions and resource exhaustion.
package rpcerr

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller can match with errors.Is.
var (
	// ErrProtocol marks an unexpected handoff tag or malformed frame.
	// Fatal for the channel.
	ErrProtocol = errors.New("rpc: protocol violation")

	// ErrTimeout marks a caller-supplied deadline exceeded while waiting
	// on a lock or a response. Recoverable: the caller may retry.
	ErrTimeout = errors.New("rpc: timeout")

	// ErrDestroyed marks a lock torn down by another party while this
	// one was waiting on it. Fatal for the channel.
	ErrDestroyed = errors.New("rpc: lock destroyed")

	// ErrResourceExhausted marks failure to create a shared buffer or
	// kernel semaphore. Fatal for the call; the resource manager does
	// not retry it, so connection setup fails with this error.
	ErrResourceExhausted = errors.New("rpc: resource exhausted")

	// ErrNoWorkerAvailable marks a warning-only condition: the spin
	// phase passed its no-progress threshold and the resource manager
	// currently reports zero live server pids for the port.
	ErrNoWorkerAvailable = errors.New("rpc: no worker available")
)

// RemoteException is a typed exception raised by a remote method
// handler and propagated back to the caller of Send. Name is matched
// against a table of well-known exception kinds; an unrecognized name
// falls back to a generic carrier that still preserves the original
// wire text in Raw.
type RemoteException struct {
	Name string
	Args string // best-effort literal rendering of the exception's args
	Raw  string // the full "Name(args)" wire text, verbatim
}

func (e *RemoteException) Error() string {
	return fmt.Sprintf("remote exception: %s", e.Raw)
}

// knownExceptions is the closed table of exception kinds the rehydrator
// recognizes by name. Anything outside this table still rehydrates —
// as a *RemoteException with Name left as-is — it's simply not promoted
// to one of these well-known Go error values via errors.Is.
var knownExceptions = map[string]error{
	"ValueError":      errValueError,
	"TypeError":       errTypeError,
	"KeyError":        errKeyError,
	"TimeoutError":     ErrTimeout,
	"UnknownMethodError": errUnknownMethod,
}

var (
	errValueError    = errors.New("remote: value error")
	errTypeError     = errors.New("remote: type error")
	errKeyError      = errors.New("remote: key error")
	errUnknownMethod = errors.New("remote: unknown method")
)

// Unwrap lets errors.Is match a *RemoteException against one of the
// well-known sentinels in knownExceptions when the name is recognized.
func (e *RemoteException) Unwrap() error {
	return knownExceptions[e.Name]
}

// ParseException reconstructs a RemoteException from the wire text
// "Name(repr-of-args)". Unknown names still produce a usable exception
// carrying the full original string.
func ParseException(wire string) *RemoteException {
	name := wire
	args := ""
	if i := indexByte(wire, '('); i >= 0 && len(wire) > 0 && wire[len(wire)-1] == ')' {
		name = wire[:i]
		args = wire[i+1 : len(wire)-1]
	}
	return &RemoteException{Name: name, Args: args, Raw: wire}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
