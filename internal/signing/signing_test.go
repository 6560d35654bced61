// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"

	"github.com/coreos/fero/internal/authz"
	"github.com/coreos/fero/internal/hsm"
	"github.com/coreos/fero/internal/store"
	"github.com/coreos/fero/proto/feropb"
)

// wrapDeviceKeyAsEntity exposes a secret's RSA public key as an
// openpgp.Entity so a PGP signature the device produced can be checked with
// go-crypto's own verifier, the way a real caller holding only the public
// key would. Construction pattern grounded on
// other_examples/be02782a_cert-manager-release__pkg-sign-kmspgp.go.go's
// deriveEntity/BootstrapPGPFromGCP; the self-signature is left unsigned
// since go-crypto's key lookup only consults its FlagsValid/FlagSign bits,
// not its cryptographic validity.
func wrapDeviceKeyAsEntity(pub *rsa.PublicKey, created time.Time) *openpgp.Entity {
	primary := packet.NewRSAPublicKey(created, pub)
	isPrimary := true
	uid := packet.NewUserId("release signer", "", "")
	return &openpgp.Entity{
		PrimaryKey: primary,
		Identities: map[string]*openpgp.Identity{
			uid.Id: {
				Name:   uid.Id,
				UserId: uid,
				SelfSignature: &packet.Signature{
					CreationTime: created,
					SigType:      packet.SigTypePositiveCert,
					PubKeyAlgo:   packet.PubKeyAlgoRSA,
					Hash:         crypto.SHA256,
					IsPrimaryId:  &isPrimary,
					FlagsValid:   true,
					FlagSign:     true,
					IssuerKeyId:  &primary.KeyId,
				},
			},
		},
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "fero.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEntity(t *testing.T) (*openpgp.Entity, []byte) {
	t.Helper()
	entity, err := openpgp.NewEntity("test signer", "", "", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())
	return entity, buf.Bytes()
}

func sign(t *testing.T, entity *openpgp.Entity, payload []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&sig, entity, bytes.NewReader(payload), nil))
	return sig.Bytes()
}

// setupSecretWithQuorum registers a secret backed by a freshly generated HSM
// key and a single signer whose weight alone meets the threshold.
func setupSecretWithQuorum(t *testing.T, db *store.Store, f *hsm.Fake, name string, threshold int32) (*openpgp.Entity, uint16) {
	t.Helper()
	require.NoError(t, f.CreateSession(1, "password"))

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hsmID, err := f.PutRSAKey(priv.N.Bytes(), priv.Primes[0].Bytes(), priv.Primes[1].Bytes(), hsm.KeyOptions{
		Domains:      0xFFFF,
		Capabilities: hsm.CapAsymmetricSignPkcs,
	})
	require.NoError(t, err)

	require.NoError(t, db.CreateSecret(&store.Secret{HSMID: hsmID, Name: name, Threshold: threshold}))
	secret, err := db.GetSecretByName(name)
	require.NoError(t, err)

	entity, armored := newTestEntity(t)
	require.NoError(t, db.CreateUser(&store.User{KeyID: entity.PrimaryKey.KeyId, KeyData: armored}))
	user, err := db.GetUserByKeyID(entity.PrimaryKey.KeyId)
	require.NoError(t, err)
	require.NoError(t, db.UpsertWeight(user.ID, secret.ID, threshold))

	return entity, hsmID
}

func TestSign_PKCS1V15_AdmitsAndLogs(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	entity, _ := setupSecretWithQuorum(t, db, f, "release-key", 5)

	srv := New(db, f, nil)
	payload := []byte("artifact-bytes")
	sig := sign(t, entity, payload)

	resp, err := srv.Sign(context.Background(), &feropb.SignRequest{
		Ident:   &feropb.Identification{SecretName: "release-key", Signatures: [][]byte{sig}},
		Payload: payload,
		SigType: feropb.SigType_PKCS1V1_5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Payload)

	logs, err := db.FeroLogsSince(1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, store.ResultSuccess, logs[1].Result)
}

func TestSign_InsufficientWeightIsLoggedAsFailure(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	_, _ = setupSecretWithQuorum(t, db, f, "release-key", 5)

	srv := New(db, f, nil)
	payload := []byte("artifact-bytes")

	_, err := srv.Sign(context.Background(), &feropb.SignRequest{
		Ident:   &feropb.Identification{SecretName: "release-key"},
		Payload: payload,
		SigType: feropb.SigType_PKCS1V1_5,
	})
	require.Error(t, err)

	logs, err := db.FeroLogsSince(1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, store.ResultFailure, logs[1].Result)
}

func TestSign_PGP_ProducesVerifiableSignature(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	require.NoError(t, f.CreateSession(1, "password"))

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hsmID, err := f.PutRSAKey(priv.N.Bytes(), priv.Primes[0].Bytes(), priv.Primes[1].Bytes(), hsm.KeyOptions{
		Domains:      0xFFFF,
		Capabilities: hsm.CapAsymmetricSignPkcs,
	})
	require.NoError(t, err)

	created := time.Unix(1_700_000_000, 0)
	deviceEntity := wrapDeviceKeyAsEntity(&priv.PublicKey, created)
	keyID := deviceEntity.PrimaryKey.KeyId

	require.NoError(t, db.CreateSecret(&store.Secret{HSMID: hsmID, Name: "release-key", KeyID: &keyID, Threshold: 5}))
	secret, err := db.GetSecretByName("release-key")
	require.NoError(t, err)

	signerEntity, armored := newTestEntity(t)
	require.NoError(t, db.CreateUser(&store.User{KeyID: signerEntity.PrimaryKey.KeyId, KeyData: armored}))
	user, err := db.GetUserByKeyID(signerEntity.PrimaryKey.KeyId)
	require.NoError(t, err)
	require.NoError(t, db.UpsertWeight(user.ID, secret.ID, 5))

	payload := []byte("release artifact bytes")
	sig := sign(t, signerEntity, payload)

	srv := New(db, f, nil)
	resp, err := srv.Sign(context.Background(), &feropb.SignRequest{
		SigType: feropb.SigType_PGP,
		Payload: payload,
		Ident:   &feropb.Identification{SecretName: "release-key", Signatures: [][]byte{sig}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Payload)

	keyring := openpgp.EntityList{deviceEntity}
	verifiedBy, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(payload), bytes.NewReader(resp.Payload), nil)
	require.NoError(t, err)
	require.Equal(t, keyID, verifiedBy.PrimaryKey.KeyId)
}

func TestSetThreshold_UpdatesStore(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	entity, _ := setupSecretWithQuorum(t, db, f, "release-key", 5)

	srv := New(db, f, nil)
	sig := sign(t, entity, authz.CanonicalThresholdPayload("release-key", 9))

	_, err := srv.SetThreshold(context.Background(), &feropb.ThresholdRequest{
		Ident:     &feropb.Identification{SecretName: "release-key", Signatures: [][]byte{sig}},
		Threshold: 9,
	})
	require.NoError(t, err)

	secret, err := db.GetSecretByName("release-key")
	require.NoError(t, err)
	require.Equal(t, int32(9), secret.Threshold)
}

func TestGetLogs_NoAuthenticationRequired(t *testing.T) {
	db := openTestStore(t)
	f := hsm.NewFake()
	setupSecretWithQuorum(t, db, f, "release-key", 0)

	srv := New(db, f, nil)
	_, err := srv.SetThreshold(context.Background(), &feropb.ThresholdRequest{
		Ident:     &feropb.Identification{SecretName: "release-key"},
		Threshold: 1,
	})
	require.NoError(t, err)

	resp, err := srv.GetLogs(context.Background(), &feropb.LogRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Logs)
}
