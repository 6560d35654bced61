// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/fero/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fero_test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSecretCRUD(t *testing.T) {
	s := openTestStore(t)

	secret := &store.Secret{HSMID: 1, Name: "demo", Threshold: 1}
	require.NoError(t, s.CreateSecret(secret))

	got, err := s.GetSecretByName("demo")
	require.NoError(t, err)
	require.Equal(t, int32(1), got.Threshold)

	require.NoError(t, s.UpdateThreshold("demo", 3))
	got, err = s.GetSecretByName("demo")
	require.NoError(t, err)
	require.Equal(t, int32(3), got.Threshold)

	require.Error(t, s.UpdateThreshold("nonexistent", 1))
}

func TestSecretUniqueName(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateSecret(&store.Secret{HSMID: 1, Name: "demo"}))
	require.Error(t, s.CreateSecret(&store.Secret{HSMID: 2, Name: "demo"}))
}

func TestWeightsForSecret(t *testing.T) {
	s := openTestStore(t)

	secret := &store.Secret{HSMID: 1, Name: "demo", Threshold: 2}
	require.NoError(t, s.CreateSecret(secret))

	u1 := &store.User{KeyID: 111, KeyData: []byte("pgp-1")}
	u2 := &store.User{KeyID: 222, KeyData: []byte("pgp-2")}
	require.NoError(t, s.CreateUser(u1))
	require.NoError(t, s.CreateUser(u2))

	require.NoError(t, s.UpsertWeight(u1.ID, secret.ID, 1))
	require.NoError(t, s.UpsertWeight(u2.ID, secret.ID, 2))

	rows, err := s.WeightsForSecret(secret.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	w, err := s.WeightFor(u1.ID, secret.ID)
	require.NoError(t, err)
	require.Equal(t, int32(1), w)

	// Unknown (user, secret) pair contributes 0, not an error.
	w, err = s.WeightFor(9999, secret.ID)
	require.NoError(t, err)
	require.Equal(t, int32(0), w)

	// Upsert updates rather than duplicates.
	require.NoError(t, s.UpsertWeight(u1.ID, secret.ID, 5))
	w, err = s.WeightFor(u1.ID, secret.ID)
	require.NoError(t, err)
	require.Equal(t, int32(5), w)

	// Negative weights are accepted and stored as-is, per spec §9's
	// decision to let them subtract rather than rejecting them.
	require.NoError(t, s.UpsertWeight(u2.ID, secret.ID, -3))
	w, err = s.WeightFor(u2.ID, secret.ID)
	require.NoError(t, err)
	require.Equal(t, int32(-3), w)
}

func TestHSMLogMirrorAndAssociation(t *testing.T) {
	s := openTestStore(t)

	last, err := s.LastHSMIndex()
	require.NoError(t, err)
	require.Equal(t, uint16(0), last)

	batch := []store.HsmLogEntry{
		{HSMIndex: 1, Command: 1, Hash: make([]byte, 16)},
		{HSMIndex: 2, Command: 1, Hash: make([]byte, 16)},
	}
	newLast, err := s.InsertHSMLogs(batch)
	require.NoError(t, err)
	require.Equal(t, uint16(2), newLast)

	entry := &store.FeroLogEntry{HSMIndexStart: 0, HSMIndexEnd: 2}
	assoc, err := s.AssociatedHSMLogs(entry)
	require.NoError(t, err)
	require.Len(t, assoc, 2)
}

func TestFeroLogOrdering(t *testing.T) {
	s := openTestStore(t)

	root := &store.FeroLogEntry{Hash: make([]byte, 32)}
	require.NoError(t, s.InsertFeroLogEntry(root))

	last, err := s.LastFeroLogEntry()
	require.NoError(t, err)
	require.Equal(t, root.ID, last.ID)

	second := &store.FeroLogEntry{Hash: make([]byte, 32), RequestType: store.RequestSign}
	require.NoError(t, s.InsertFeroLogEntry(second))

	logs, err := s.FeroLogsSince(1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Less(t, logs[0].ID, logs[1].ID)
}
