// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/fero/internal/hsm"
)

func TestCredentialCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")

	cache, err := LoadCredentialCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.Remember(AdminAuthkeyID, "adminpw"))
	require.NoError(t, cache.Remember(AppAuthkeyID, "apppw"))
	require.NoError(t, cache.Save(path))

	reloaded, err := LoadCredentialCache(path)
	require.NoError(t, err)

	ok, err := reloaded.Check(AdminAuthkeyID, "adminpw")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = reloaded.Check(AppAuthkeyID, "wrong-password")
	require.NoError(t, err)
	require.False(t, ok)

	// An authkey id with no cached entry is not checked.
	ok, err = reloaded.Check(DefaultAuthkeyID, "anything")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyCachedPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")

	// No cache file yet: always passes.
	require.NoError(t, VerifyCachedPassword(path, AdminAuthkeyID, "whatever"))

	cache, err := LoadCredentialCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.Remember(AdminAuthkeyID, "correct-horse"))
	require.NoError(t, cache.Save(path))

	require.NoError(t, VerifyCachedPassword(path, AdminAuthkeyID, "correct-horse"))
	require.Error(t, VerifyCachedPassword(path, AdminAuthkeyID, "wrong"))

	// Empty path disables the check entirely.
	require.NoError(t, VerifyCachedPassword("", AdminAuthkeyID, "wrong"))
}

func TestProvision_CachesCredentials(t *testing.T) {
	f := hsm.NewFake()
	db := openTestStore(t)
	path := filepath.Join(t.TempDir(), "creds.yaml")

	p := New(db, f, nil, 1).WithCredentialCache(path)
	require.NoError(t, p.Provision("adminpw", "apppw"))

	require.NoError(t, VerifyCachedPassword(path, AdminAuthkeyID, "adminpw"))
	require.Error(t, VerifyCachedPassword(path, AdminAuthkeyID, "wrong"))
	require.NoError(t, VerifyCachedPassword(path, AppAuthkeyID, "apppw"))
}
