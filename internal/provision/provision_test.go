// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"

	"github.com/coreos/fero/internal/hsm"
	"github.com/coreos/fero/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "fero.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestImportPGPSecret_RoundTrip(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	require.NoError(t, f.CreateSession(1, "password"))
	p := New(db, f, nil, 1)

	entity, err := openpgp.NewEntity("release signer", "", "", nil)
	require.NoError(t, err)

	var raw bytes.Buffer
	require.NoError(t, entity.SerializePrivate(&raw, nil))

	fp := hex.EncodeToString(entity.PrimaryKey.Fingerprint[:])
	require.NoError(t, p.ImportPGPSecret(raw.Bytes(), fp, "release-key", 3))

	secret, err := db.GetSecretByName("release-key")
	require.NoError(t, err)
	require.NotNil(t, secret.KeyID)
	require.Equal(t, entity.PrimaryKey.KeyId, *secret.KeyID)
	require.Equal(t, int32(3), secret.Threshold)

	ids, err := f.ListObjects(hsm.ObjectAsymmetricKey)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestImportPGPSecret_UnknownFingerprintFails(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	require.NoError(t, f.CreateSession(1, "password"))
	p := New(db, f, nil, 1)

	entity, err := openpgp.NewEntity("release signer", "", "", nil)
	require.NoError(t, err)

	var raw bytes.Buffer
	require.NoError(t, entity.SerializePrivate(&raw, nil))

	err = p.ImportPGPSecret(raw.Bytes(), "00112233445566778899aabbccddeeff00112233", "release-key", 3)
	require.Error(t, err)

	_, err = db.GetSecretByName("release-key")
	require.Error(t, err)
}

func TestImportPEMSecret_RoundTrip(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	require.NoError(t, f.CreateSession(1, "password"))
	p := New(db, f, nil, 1)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}

	require.NoError(t, p.ImportPEMSecret(pem.EncodeToMemory(block), "offline-key", 1))

	secret, err := db.GetSecretByName("offline-key")
	require.NoError(t, err)
	require.Nil(t, secret.KeyID)
}

func TestStoreUser_ExtractsPrimaryKeyID(t *testing.T) {
	db := openTestStore(t)
	p := New(db, hsm.NewFake(), nil, 1)

	entity, err := openpgp.NewEntity("alice", "", "", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	require.NoError(t, p.StoreUser(buf.Bytes()))

	user, err := db.GetUserByKeyID(entity.PrimaryKey.KeyId)
	require.NoError(t, err)
	require.Equal(t, buf.Bytes(), user.KeyData)
}

func TestSetUserWeight_Upserts(t *testing.T) {
	db := openTestStore(t)
	p := New(db, hsm.NewFake(), nil, 1)

	require.NoError(t, db.CreateSecret(&store.Secret{HSMID: 1, Name: "release-key", Threshold: 5}))
	require.NoError(t, db.CreateUser(&store.User{KeyID: 0xAABBCCDD, KeyData: []byte("keydata")}))

	require.NoError(t, p.SetUserWeight(0xAABBCCDD, "release-key", 3))

	secret, err := db.GetSecretByName("release-key")
	require.NoError(t, err)
	user, err := db.GetUserByKeyID(0xAABBCCDD)
	require.NoError(t, err)

	weights, err := db.WeightsForSecret(secret.ID)
	require.NoError(t, err)
	require.Len(t, weights, 1)
	require.Equal(t, user.ID, weights[0].UserID)
	require.Equal(t, int32(3), weights[0].Weight)
}

func TestProvision_CreatesAuthkeysAndRemovesDefault(t *testing.T) {
	f := hsm.NewFake()
	db := openTestStore(t)
	p := New(db, f, nil, 1)

	require.NoError(t, p.Provision("adminpw", "apppw"))

	_, err := f.GetObjectInfo(DefaultAuthkeyID, hsm.ObjectAuthKey)
	require.Error(t, err)

	adminInfo, err := f.GetObjectInfo(AdminAuthkeyID, hsm.ObjectAuthKey)
	require.NoError(t, err)
	require.NotZero(t, adminInfo.Capabilities)

	appInfo, err := f.GetObjectInfo(AppAuthkeyID, hsm.ObjectAuthKey)
	require.NoError(t, err)
	require.NotZero(t, appInfo.Capabilities&hsm.CapAsymmetricSignPkcs)

	require.NoError(t, f.CreateSession(AppAuthkeyID, "apppw"))
}
