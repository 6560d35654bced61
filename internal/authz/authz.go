// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package authz implements Fero's weighted-quorum PGP authorizer: a secret
// is admitted for an operation once the deduplicated set of valid signer
// fingerprints over the operation's canonical payload sums to at least the
// secret's configured threshold.
package authz

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/coreos/fero/internal/ferr"
	"github.com/coreos/fero/internal/store"
)

// Identification is the caller-supplied claim of who is requesting an
// operation: the secret it targets and the detached signatures offered
// over that operation's canonical payload.
type Identification struct {
	SecretName string
	Signatures [][]byte
}

// Handle is the result of a successful authentication: the resolved secret
// and enough context for the caller to perform the operation and log it.
type Handle struct {
	Secret *store.Secret
}

// Authorizer resolves Identification against a Store's registered secrets,
// users, and weights.
type Authorizer struct {
	store *store.Store
}

// New returns an Authorizer reading from db.
func New(db *store.Store) *Authorizer {
	return &Authorizer{store: db}
}

// Authenticate implements spec §4.3's algorithm: load the secret, build an
// ephemeral verification keyring from its registered signers, verify each
// supplied signature, sum the weights of the distinct valid signers, and
// admit iff the sum reaches the secret's threshold.
func (a *Authorizer) Authenticate(ident Identification, canonicalPayload []byte) (*Handle, error) {
	secret, err := a.store.GetSecretByName(ident.SecretName)
	if err != nil {
		return nil, ferr.New(ferr.KindUnknownSecret, err)
	}

	rows, err := a.store.WeightsForSecret(secret.ID)
	if err != nil {
		return nil, ferr.New(ferr.KindStoreFailure, err)
	}

	// The verification keyring is an in-memory openpgp.EntityList built
	// fresh for this call; there is no on-disk directory to tear down
	// (spec §9's scoped-acquisition requirement holds trivially here).
	keyring, byKeyID, err := buildKeyring(rows)
	if err != nil {
		return nil, ferr.New(ferr.KindBadSignature, err)
	}

	fingerprints := map[string]bool{}
	for _, sigBytes := range ident.Signatures {
		keyID, ok := verifyDetached(keyring, canonicalPayload, sigBytes)
		if !ok {
			continue
		}
		fingerprints[fmt.Sprintf("%016x", keyID)] = true
	}

	var sum int32
	for fp := range fingerprints {
		row, ok := byKeyID[fp]
		if !ok {
			continue // signer is not a registered user of this secret: contributes 0
		}
		sum += row.Weight
	}

	if sum < secret.Threshold {
		return nil, ferr.Errorf(ferr.KindInsufficientWeight, "signer weight %d below threshold %d for secret %q", sum, secret.Threshold, secret.Name)
	}
	return &Handle{Secret: secret}, nil
}

// buildKeyring turns a secret's registered signers into an openpgp entity
// list plus a lookup from hex key id to the originating weight row, so a
// verified signature's key id can be resolved back to its weight.
func buildKeyring(rows []store.WeightRow) (openpgp.EntityList, map[string]store.WeightRow, error) {
	var keyring openpgp.EntityList
	byKeyID := map[string]store.WeightRow{}

	for _, row := range rows {
		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(row.KeyData))
		if err != nil {
			entities, err = openpgp.ReadKeyRing(bytes.NewReader(row.KeyData))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse stored key for user %d: %w", row.UserID, err)
			}
		}
		keyring = append(keyring, entities...)
		byKeyID[fmt.Sprintf("%016x", row.KeyID)] = row
	}
	return keyring, byKeyID, nil
}

// verifyDetached checks sigBytes as a detached signature over payload using
// keyring, returning the signer's key id if, and only if, the signature is
// both parseable and untampered. CheckDetachedSignature's error return folds
// in the tamper/summary check the original's gpgme-based verifier performed
// explicitly (a non-nil error stands in for a non-GREEN summary); an
// unrecognized signer (not in keyring) is not an error either way, since the
// keyring only ever contains this secret's registered signers.
func verifyDetached(keyring openpgp.EntityList, payload, sigBytes []byte) (uint64, bool) {
	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(payload), bytes.NewReader(sigBytes), nil)
	if err != nil || signer == nil || signer.PrimaryKey == nil {
		return 0, false
	}
	// The key id is populated on the resolved entity, not on a separate
	// signature-verification result (spec §4.3).
	return signer.PrimaryKey.KeyId, true
}

// CanonicalSignPayload is the identity function on artifact bytes: the
// payload signed for Sign is the artifact itself, byte for byte.
func CanonicalSignPayload(artifact []byte) []byte {
	return artifact
}

// CanonicalThresholdPayload builds the bytes signed for SetThreshold:
// secret_name_utf8 ‖ threshold_i32 (big-endian).
func CanonicalThresholdPayload(secretName string, threshold int32) []byte {
	var buf bytes.Buffer
	buf.WriteString(secretName)
	binary.Write(&buf, binary.BigEndian, threshold)
	return buf.Bytes()
}

// CanonicalWeightPayload builds the bytes signed for SetWeight:
// secret_name_utf8 ‖ user_key_id_u64 ‖ weight_i32 (big-endian).
func CanonicalWeightPayload(secretName string, userKeyID uint64, weight int32) []byte {
	var buf bytes.Buffer
	buf.WriteString(secretName)
	binary.Write(&buf, binary.BigEndian, userKeyID)
	binary.Write(&buf, binary.BigEndian, weight)
	return buf.Bytes()
}
