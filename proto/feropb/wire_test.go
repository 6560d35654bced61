// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package feropb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalIdentification_RoundTrip(t *testing.T) {
	want := &Identification{
		SecretName: "release-key",
		Signatures: [][]byte{[]byte("sig-a"), []byte("sig-b")},
	}

	data, err := MarshalIdentification(want)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := UnmarshalIdentification(data)
	require.NoError(t, err)
	require.Equal(t, want.SecretName, got.SecretName)
	require.Equal(t, want.Signatures, got.Signatures)
}

func TestMarshalIdentification_Deterministic(t *testing.T) {
	ident := &Identification{SecretName: "k", Signatures: [][]byte{[]byte("s")}}

	a, err := MarshalIdentification(ident)
	require.NoError(t, err)
	b, err := MarshalIdentification(ident)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestMarshalIdentification_EmptySignatures(t *testing.T) {
	ident := &Identification{SecretName: "bootstrap-secret"}

	data, err := MarshalIdentification(ident)
	require.NoError(t, err)

	got, err := UnmarshalIdentification(data)
	require.NoError(t, err)
	require.Equal(t, "bootstrap-secret", got.SecretName)
	require.Empty(t, got.Signatures)
}
