// File: ipcerr/errors.go
// Package ipcerr defines the structured error taxonomy shared by every
// layer of the IPC middleware.
// License: Apache-2.0

package ipcerr

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds from the middleware's error taxonomy.
type Code int

const (
	CodeUnknown Code = iota

	// Creation
	CodeServiceAlreadyExists
	CodeServiceDoesNotExist
	CodeInitializationIncomplete
	CodeIncompatibleTypes
	CodeIncompatibleMessagingPattern
	CodeIncompatibleAttributes
	CodeExceedsMaxSupportedPublishers
	CodeExceedsMaxSupportedSubscribers
	CodeExceedsMaxSupportedNotifiers
	CodeExceedsMaxSupportedListeners
	CodeExceedsMaxSupportedClients
	CodeExceedsMaxSupportedServers

	// Allocation
	CodeOutOfMemory
	CodeExceedsMaxSupportedAlignment
	CodeSizeIsZero

	// Connection
	CodeIncompatibleBufferSize
	CodeIncompatibleMaxBorrowedSampleSetting
	CodeIncompatibleOverflowSetting
	CodeConnectionMaybeCorrupted
	CodeAnotherInstanceIsAlreadyConnected

	// Transfer
	CodeReceiveBufferFull
	CodeReceiveWouldExceedMaxBorrowValue
	CodeClearRetrieveChannelBeforeSend

	// Lifecycle
	CodeInsufficientPermissions
	CodeSegmentCorrupted
	CodeNodeRegistryInaccessible

	// Event
	CodeMissedDeadline
)

var codeNames = map[Code]string{
	CodeUnknown:                              "unknown",
	CodeServiceAlreadyExists:                 "ServiceAlreadyExists",
	CodeServiceDoesNotExist:                  "ServiceDoesNotExist",
	CodeInitializationIncomplete:             "InitializationIncomplete",
	CodeIncompatibleTypes:                    "IncompatibleTypes",
	CodeIncompatibleMessagingPattern:         "IncompatibleMessagingPattern",
	CodeIncompatibleAttributes:               "IncompatibleAttributes",
	CodeExceedsMaxSupportedPublishers:        "ExceedsMaxSupportedPublishers",
	CodeExceedsMaxSupportedSubscribers:       "ExceedsMaxSupportedSubscribers",
	CodeExceedsMaxSupportedNotifiers:         "ExceedsMaxSupportedNotifiers",
	CodeExceedsMaxSupportedListeners:         "ExceedsMaxSupportedListeners",
	CodeExceedsMaxSupportedClients:           "ExceedsMaxSupportedClients",
	CodeExceedsMaxSupportedServers:           "ExceedsMaxSupportedServers",
	CodeOutOfMemory:                          "OutOfMemory",
	CodeExceedsMaxSupportedAlignment:         "ExceedsMaxSupportedAlignment",
	CodeSizeIsZero:                           "SizeIsZero",
	CodeIncompatibleBufferSize:               "IncompatibleBufferSize",
	CodeIncompatibleMaxBorrowedSampleSetting: "IncompatibleMaxBorrowedSampleSetting",
	CodeIncompatibleOverflowSetting:          "IncompatibleOverflowSetting",
	CodeConnectionMaybeCorrupted:             "ConnectionMaybeCorrupted",
	CodeAnotherInstanceIsAlreadyConnected:    "AnotherInstanceIsAlreadyConnected",
	CodeReceiveBufferFull:                    "ReceiveBufferFull",
	CodeReceiveWouldExceedMaxBorrowValue:     "ReceiveWouldExceedMaxBorrowValue",
	CodeClearRetrieveChannelBeforeSend:       "ClearRetrieveChannelBeforeSend",
	CodeInsufficientPermissions:              "InsufficientPermissions",
	CodeSegmentCorrupted:                     "SegmentCorrupted",
	CodeNodeRegistryInaccessible:             "NodeRegistryInaccessible",
	CodeMissedDeadline:                       "MissedDeadline",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "unknown"
}

// Error is the structured error type returned by every port operation.
type Error struct {
	Code Code
	Op   string // the operation that failed, e.g. "Publisher.Send"
	Err  error  // optional wrapped cause
	KV   map[string]any
}

// New creates a bare Error with no wrapped cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// With attaches a key/value pair of diagnostic context, chainable.
func (e *Error) With(key string, value any) *Error {
	if e.KV == nil {
		e.KV = make(map[string]any)
	}
	e.KV[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.KV) > 0 {
		msg = fmt.Sprintf("%s (%+v)", msg, e.KV)
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is an *Error carrying code, anywhere in its
// Unwrap chain. A convenience wrapper over errors.As + (*Error).Is so
// callers don't need to construct a throwaway *Error just to compare
// codes.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Is reports whether target carries the same Code, so callers can write
// errors.Is(err, ipcerr.New(ipcerr.CodeReceiveBufferFull, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
