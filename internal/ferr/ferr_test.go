// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package ferr_test

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"

	"github.com/coreos/fero/internal/ferr"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"UnknownSecret", ferr.New(ferr.KindUnknownSecret, nil), codes.PermissionDenied},
		{"InsufficientWeight", ferr.New(ferr.KindInsufficientWeight, nil), codes.PermissionDenied},
		{"InvalidThreshold", ferr.New(ferr.KindInvalidThreshold, nil), codes.InvalidArgument},
		{"UnknownUser", ferr.New(ferr.KindUnknownUser, nil), codes.InvalidArgument},
		{"HSMUnavailable", ferr.New(ferr.KindHSMUnavailable, nil), codes.Aborted},
		{"StoreFailure", ferr.New(ferr.KindStoreFailure, nil), codes.Aborted},
		{"LogAppendFailure", ferr.New(ferr.KindLogAppendFailure, nil), codes.Internal},
		{"LogIndexWraparound", ferr.New(ferr.KindLogIndexWraparound, nil), codes.DataLoss},
		{"PlainError", errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ferr.Code(tt.err); got != tt.want {
				t.Errorf("Code() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !ferr.IsFatal(ferr.New(ferr.KindLogAppendFailure, nil)) {
		t.Errorf("IsFatal() = false, want true for KindLogAppendFailure")
	}
	if ferr.IsFatal(ferr.New(ferr.KindStoreFailure, nil)) {
		t.Errorf("IsFatal() = true, want false for KindStoreFailure")
	}
	if !ferr.IsFatal(ferr.New(ferr.KindLogIndexWraparound, nil)) {
		t.Errorf("IsFatal() = false, want true for KindLogIndexWraparound")
	}
	if ferr.IsFatal(errors.New("plain")) {
		t.Errorf("IsFatal() = true, want false for non-ferr error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := ferr.New(ferr.KindStoreFailure, cause)
	if !errors.Is(wrapped, cause) {
		t.Errorf("errors.Is(wrapped, cause) = false, want true")
	}
}
