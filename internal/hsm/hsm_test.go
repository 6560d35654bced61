// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hsm

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"
)

func newFakeWithKey(t *testing.T) (*Fake, uint16) {
	t.Helper()
	f := NewFake()
	require.NoError(t, f.CreateSession(1, "password"))

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	id, err := f.PutRSAKey(priv.N.Bytes(), priv.Primes[0].Bytes(), priv.Primes[1].Bytes(), KeyOptions{
		Domains:      0xFFFF,
		Capabilities: CapAsymmetricSignPkcs,
	})
	require.NoError(t, err)
	return f, id
}

func TestDigestInfo_UnsupportedHash(t *testing.T) {
	_, err := DigestInfo(DigestAlgorithm{Hash: crypto.MD5, PGPHashID: 1}, make([]byte, 16))
	require.Error(t, err)
}

func TestDigestInfo_WrongLength(t *testing.T) {
	_, err := DigestInfo(SHA256, make([]byte, 10))
	require.Error(t, err)
}

func TestSignRaw_RoundTrip(t *testing.T) {
	f, id := newFakeWithKey(t)

	message := []byte("provision batch 42")
	sig, err := SignRaw(f, id, SHA256, message)
	require.NoError(t, err)

	pub := f.keys[id].PublicKey
	h := sha256.Sum256(message)
	require.NoError(t, rsa.VerifyPKCS1v15(&pub, crypto.SHA256, h[:], sig))
}

func TestSignPGP_ProducesWellFormedPacket(t *testing.T) {
	f, id := newFakeWithKey(t)

	payload := []byte("sign this secret payload")
	packet, err := SignPGP(f, id, 0x1122334455667788, SHA256, payload)
	require.NoError(t, err)
	require.NotEmpty(t, packet)

	// New-format packet header: tag 2 (signature) with the 0xC0 marker bits.
	require.Equal(t, byte(0xC2), packet[0])

	// A 2048-bit signature body is between 192 and 8383 bytes long, so the
	// header carries a two-octet length and the body starts at offset 3.
	body := packet[3:]
	require.Equal(t, byte(4), body[0], "version")
	require.Equal(t, byte(pgpSigTypeBinary), body[1])
	require.Equal(t, byte(pgpPubKeyAlgoRSASign), body[2])
	require.Equal(t, SHA256.PGPHashID, body[3])
}

// wrapAsVerifierEntity builds an openpgp.Entity exposing pub as a
// signing-capable key, the way fero-server/src/hsm.rs's Go counterpart
// relies on go-crypto to verify a signature it did not itself produce
// through the library's signing path. The self-signature is never
// cryptographically signed (there is no in-process private key to sign
// with, only the device's); go-crypto's key lookup only consults
// FlagsValid/FlagSign on it, not its cryptographic validity, so this is
// sufficient to make CheckDetachedSignature resolve the key. Construction
// pattern grounded on
// other_examples/be02782a_cert-manager-release__pkg-sign-kmspgp.go.go's
// deriveEntity/BootstrapPGPFromGCP.
func wrapAsVerifierEntity(pub *rsa.PublicKey, created time.Time) *openpgp.Entity {
	primary := packet.NewRSAPublicKey(created, pub)
	isPrimary := true
	uid := packet.NewUserId("device signer", "", "")
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

func TestSignPGP_VerifiesAsDetachedSignature(t *testing.T) {
	f, id := newFakeWithKey(t)

	created := time.Unix(1_700_000_000, 0)
	entity := wrapAsVerifierEntity(&f.keys[id].PublicKey, created)

	payload := []byte("release artifact bytes, signed via the device")
	sig, err := SignPGP(f, id, entity.PrimaryKey.KeyId, SHA256, payload)
	require.NoError(t, err)

	keyring := openpgp.EntityList{entity}
	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(payload), bytes.NewReader(sig), nil)
	require.NoError(t, err)
	require.Equal(t, entity.PrimaryKey.KeyId, signer.PrimaryKey.KeyId)

	// Tampering with even one payload byte must invalidate the signature.
	tampered := append([]byte{}, payload...)
	tampered[0] ^= 0xFF
	_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(tampered), bytes.NewReader(sig), nil)
	require.Error(t, err)
}

func TestEncodeMPI_StripsLeadingZeros(t *testing.T) {
	mpi := encodeMPI([]byte{0x00, 0x00, 0x80, 0x01})
	require.Equal(t, []byte{0x00, 0x10, 0x80, 0x01}, mpi)
}

func TestEncodeMPI_Empty(t *testing.T) {
	require.Equal(t, []byte{0x00, 0x00}, encodeMPI(nil))
}

func TestBitLen(t *testing.T) {
	cases := map[byte]int{0x00: 0, 0x01: 1, 0x03: 2, 0x80: 8, 0xFF: 8}
	for b, want := range cases {
		require.Equal(t, want, bitLen(b), "byte %08b", b)
	}
}

func TestBackoff_SucceedsEventually(t *testing.T) {
	attempts := 0
	err := Backoff(200*time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not ready")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestBackoff_GivesUp(t *testing.T) {
	attempts := 0
	err := Backoff(50*time.Millisecond, func() error {
		attempts++
		return errors.New("still down")
	})
	require.Error(t, err)
	require.Greater(t, attempts, 0)
}

func TestFake_CreateSessionRejectsBadPassword(t *testing.T) {
	f := NewFake()
	require.Error(t, f.CreateSession(1, "wrong"))
	require.NoError(t, f.CreateSession(1, "password"))
}

func TestFake_PutRSAKeyRejectsBadSize(t *testing.T) {
	f := NewFake()
	_, err := f.PutRSAKey(make([]byte, 100), make([]byte, 50), make([]byte, 50), KeyOptions{})
	require.Error(t, err)
}

func TestFake_LogDrainAndAck(t *testing.T) {
	f := NewFake()
	f.AppendDeviceLog(1)
	f.AppendDeviceLog(2)
	f.AppendDeviceLog(3)

	all, err := f.Logs()
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, f.SetLogIndex(2))
	since, err := f.LogsSince(2)
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, uint16(3), since[0].Index)
}

func TestFake_ResetTracksCount(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Reset())
	require.NoError(t, f.Reset())
	require.Equal(t, 2, f.ResetCount())
}

func TestFake_DeleteObject(t *testing.T) {
	f, id := newFakeWithKey(t)
	require.NoError(t, f.DeleteObject(id, ObjectAsymmetricKey))
	_, err := f.GetObjectInfo(id, ObjectAsymmetricKey)
	require.Error(t, err)
}
