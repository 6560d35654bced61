// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package hsm is the HSM Adapter: it owns the single serialized session to
// the signing device and exposes the narrow set of operations the rest of
// Fero needs (sign, import, object management, and audit-log draining).
//
// The session/attribute plumbing is adapted from the teacher's
// src/pk11/rsa.go (RSA key import/export, PKCS1v1.5 signing) and
// src/spm/services/se_pk11.go (session lifecycle, command dispatch), backed
// by github.com/miekg/pkcs11. The audit-log operations have no standard
// PKCS#11 equivalent and are modeled as a vendor extension, following the
// escape-hatch pattern in src/pk11/native.go.
package hsm

import "crypto"

// ObjectType distinguishes the device object classes Fero manipulates.
type ObjectType int

const (
	ObjectAsymmetricKey ObjectType = iota
	ObjectAuthKey
)

// Capability is a bitmask of operations an authentication key may perform,
// mirroring the capability/delegated-capability model of the reference HSM.
type Capability uint64

const (
	CapPutAsymmetric Capability = 1 << iota
	CapGetOption
	CapPutOption
	CapAudit
	CapAsymmetricSignPkcs
)

// KeyOptions parameterizes RSA private key import.
type KeyOptions struct {
	Domains      uint16
	Capabilities Capability
}

// LogEntry is the device-side audit record, mirroring §3's HsmLogEntry
// before it is persisted by the Store.
type LogEntry struct {
	Index      uint16
	Command    uint8
	DataLength uint16
	SessionKey uint16
	TargetKey  uint16
	SecondKey  uint16
	Result     uint8
	SysTick    uint32
	Hash       [16]byte
}

// ObjectInfo describes an object's capabilities and key domains, used to
// derive a newly imported key's domains/capabilities from the calling
// authentication key (spec §4.1, "RSA import").
type ObjectInfo struct {
	ID           uint16
	Domains      uint16
	Capabilities Capability
}

// Ops is the HSM Adapter's public contract (§4.1). All implementations MUST
// serialize calls onto a single device session; see PKCS11's internal mutex.
type Ops interface {
	// CreateSession authenticates as the given authentication key.
	CreateSession(authkeyID uint16, password string) error

	// SignPKCS1v15 signs a pre-built DigestInfo DER blob with the RSA key at
	// hsmID, returning the raw big-endian signature. The mechanism performs
	// PKCS#1 v1.5 padding; callers must not hash twice.
	SignPKCS1v15(hsmID uint16, digestInfo []byte) ([]byte, error)

	// PutRSAKey imports an RSA private key given by its modulus and two
	// primes, returning the device object id chosen (lowest free id >= 1).
	// Only 2048 and 4096-bit keys are accepted.
	PutRSAKey(n, p, q []byte, opts KeyOptions) (uint16, error)

	// ListObjects enumerates device object ids of the given type.
	ListObjects(objType ObjectType) ([]uint16, error)

	// GetObjectInfo returns domains/capabilities for the given object.
	GetObjectInfo(id uint16, objType ObjectType) (ObjectInfo, error)

	// CreateAuthKey provisions an authentication key with the given id,
	// label, domains, capabilities and delegated capabilities.
	CreateAuthKey(id uint16, label string, domains uint16, caps, delegatedCaps Capability, password string) error

	// DeleteObject removes an object from the device.
	DeleteObject(id uint16, objType ObjectType) error

	// Reset reinitializes the device, invalidating the current session. The
	// connector is expected to report a transient network error for a short
	// window afterward; see Backoff.
	Reset() error

	// Logs returns the full device audit log.
	Logs() ([]LogEntry, error)

	// LogsSince returns device audit log entries with index > since.
	LogsSince(since uint16) ([]LogEntry, error)

	// SetLogIndex tells the device it may reclaim log slots up to and
	// including index.
	SetLogIndex(index uint16) error

	// Close releases the session.
	Close() error
}

// DigestAlgorithm names the hash function used for PKCS1v1.5/PGP signing.
type DigestAlgorithm struct {
	Hash crypto.Hash
	// PGPHashID is the OpenPGP hash algorithm identifier (RFC 4880 §9.4).
	PGPHashID uint8
}

var SHA256 = DigestAlgorithm{Hash: crypto.SHA256, PGPHashID: 8}
