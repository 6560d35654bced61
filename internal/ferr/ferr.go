// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package ferr defines Fero's error taxonomy and its mapping onto gRPC
// status codes.
package ferr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind classifies an error for the purpose of status-code translation and
// audit-log result recording.
type Kind int

const (
	// KindUnknownSecret: the requested secret name has no row in the Store.
	KindUnknownSecret Kind = iota
	// KindInsufficientWeight: signer weight summed below the secret's threshold.
	KindInsufficientWeight
	// KindBadSignature: a supplied signature blob failed to parse.
	KindBadSignature
	// KindBadPayload: the canonical payload could not be reconstructed.
	KindBadPayload
	// KindInvalidThreshold: a SetThreshold request used an out-of-range value.
	KindInvalidThreshold
	// KindInvalidWeight: a SetWeight request used an out-of-range value.
	KindInvalidWeight
	// KindUnknownUser: the target user key id has no row in the Store.
	KindUnknownUser
	// KindHSMUnavailable: the device session could not be reached.
	KindHSMUnavailable
	// KindHSMReturnCode: the device rejected an operation with an error code.
	KindHSMReturnCode
	// KindStoreFailure: the persistence layer returned an error.
	KindStoreFailure
	// KindLogAppendFailure: the audit log append protocol failed; fatal.
	KindLogAppendFailure
	// KindLogIndexWraparound: the device's uint16 log index counter rolled
	// over past the last mirrored index; fatal, since the drain can no
	// longer be trusted to be gap-free.
	KindLogIndexWraparound
)

// Error wraps an underlying cause with a Kind used for status translation.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (k Kind) String() string {
	switch k {
	case KindUnknownSecret:
		return "unknown secret"
	case KindInsufficientWeight:
		return "insufficient weight"
	case KindBadSignature:
		return "bad signature"
	case KindBadPayload:
		return "bad payload"
	case KindInvalidThreshold:
		return "invalid threshold"
	case KindInvalidWeight:
		return "invalid weight"
	case KindUnknownUser:
		return "unknown user"
	case KindHSMUnavailable:
		return "hsm unavailable"
	case KindHSMReturnCode:
		return "hsm return code"
	case KindStoreFailure:
		return "store failure"
	case KindLogAppendFailure:
		return "log append failure"
	case KindLogIndexWraparound:
		return "log index wraparound"
	default:
		return "unknown error"
	}
}

// New wraps cause with the given Kind.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Errorf wraps a formatted error with the given Kind.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Code maps err onto the gRPC status code dictated by the error taxonomy.
// Errors that do not originate from this package map to codes.Internal.
func Code(err error) codes.Code {
	var fe *Error
	if !errors.As(err, &fe) {
		return codes.Internal
	}

	switch fe.Kind {
	case KindUnknownSecret, KindInsufficientWeight, KindBadSignature, KindBadPayload:
		return codes.PermissionDenied
	case KindInvalidThreshold, KindInvalidWeight, KindUnknownUser:
		return codes.InvalidArgument
	case KindHSMUnavailable, KindHSMReturnCode, KindStoreFailure:
		return codes.Aborted
	case KindLogIndexWraparound:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// IsFatal reports whether err must abort the process, per the design's
// "continuing would break chain continuity" rule for log-append failures
// and the log-index-wraparound condition that makes the drain untrustworthy.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && (fe.Kind == KindLogAppendFailure || fe.Kind == KindLogIndexWraparound)
}
