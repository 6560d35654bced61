// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hsm

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"
	"sync"
)

// Fake is an in-memory Ops implementation used by package tests that need a
// device to sign against without a real PKCS#11 module or SoftHSM sandbox
// (see DESIGN.md's note on dropping third_party/softhsm2).
type Fake struct {
	mu sync.Mutex

	authkeyPassword map[uint16]string
	authkeyInfo     map[uint16]ObjectInfo
	keys            map[uint16]*rsa.PrivateKey
	keyInfo         map[uint16]ObjectInfo
	loggedIn        bool
	currentAuthkey  uint16

	log        []LogEntry
	lastAcked  uint16
	resetCount int
}

// NewFake returns a Fake with a single bootstrap authentication key
// (id=1, password="password"), mirroring the reference device's default
// credentials (spec §4.7).
func NewFake() *Fake {
	return &Fake{
		authkeyPassword: map[uint16]string{1: "password"},
		authkeyInfo:     map[uint16]ObjectInfo{1: {ID: 1, Domains: 0xFFFF, Capabilities: ^Capability(0)}},
		keys:            map[uint16]*rsa.PrivateKey{},
		keyInfo:         map[uint16]ObjectInfo{},
	}
}

func (f *Fake) CreateSession(authkeyID uint16, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	want, ok := f.authkeyPassword[authkeyID]
	if !ok || want != password {
		return fmt.Errorf("authentication failed for authkey %d", authkeyID)
	}
	f.loggedIn = true
	f.currentAuthkey = authkeyID
	return nil
}

func (f *Fake) SignPKCS1v15(hsmID uint16, digestInfo []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, ok := f.keys[hsmID]
	if !ok {
		return nil, fmt.Errorf("no key with id %d", hsmID)
	}
	// hash=0 signs digestInfo directly without re-wrapping it, matching the
	// device's CKM_RSA_PKCS semantics (pad only, no internal hashing).
	return rsa.SignPKCS1v15(rand.Reader, key, 0, digestInfo)
}

func (f *Fake) PutRSAKey(n, p, q []byte, opts KeyOptions) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bits := len(n) * 8
	if bits != 2048 && bits != 4096 {
		return 0, fmt.Errorf("unsupported key size %d bits: only 2048/4096 accepted", bits)
	}

	nBig := new(big.Int).SetBytes(n)
	pBig := new(big.Int).SetBytes(p)
	qBig := new(big.Int).SetBytes(q)
	d, _, _, _, err := rsaCRTParams(nBig, pBig, qBig)
	if err != nil {
		return 0, err
	}

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: nBig, E: 65537},
		D:         d,
		Primes:    []*big.Int{pBig, qBig},
	}
	priv.Precompute()

	id := f.nextFreeKeyID()
	f.keys[id] = priv
	f.keyInfo[id] = ObjectInfo{ID: id, Domains: opts.Domains, Capabilities: opts.Capabilities}
	return id, nil
}

func (f *Fake) nextFreeKeyID() uint16 {
	for id := uint16(1); id < 0xFFFF; id++ {
		if _, ok := f.keys[id]; !ok {
			return id
		}
	}
	panic("fake hsm out of object ids")
}

func (f *Fake) ListObjects(objType ObjectType) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []uint16
	if objType == ObjectAuthKey {
		for id := range f.authkeyInfo {
			ids = append(ids, id)
		}
		return ids, nil
	}
	for id := range f.keys {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *Fake) GetObjectInfo(id uint16, objType ObjectType) (ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if objType == ObjectAuthKey {
		info, ok := f.authkeyInfo[id]
		if !ok {
			return ObjectInfo{}, fmt.Errorf("no authkey with id %d", id)
		}
		return info, nil
	}
	info, ok := f.keyInfo[id]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("no key with id %d", id)
	}
	return info, nil
}

func (f *Fake) CreateAuthKey(id uint16, label string, domains uint16, caps, delegatedCaps Capability, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.authkeyInfo[id]; exists {
		return fmt.Errorf("authkey %d already exists", id)
	}
	f.authkeyPassword[id] = password
	f.authkeyInfo[id] = ObjectInfo{ID: id, Domains: domains, Capabilities: caps}
	return nil
}

func (f *Fake) DeleteObject(id uint16, objType ObjectType) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if objType == ObjectAuthKey {
		delete(f.authkeyPassword, id)
		delete(f.authkeyInfo, id)
		return nil
	}
	delete(f.keys, id)
	delete(f.keyInfo, id)
	return nil
}

func (f *Fake) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedIn = false
	f.resetCount++
	return nil
}

func (f *Fake) Logs() ([]LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]LogEntry, len(f.log))
	copy(out, f.log)
	return out, nil
}

func (f *Fake) LogsSince(since uint16) ([]LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []LogEntry
	for _, e := range f.log {
		if e.Index > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) SetLogIndex(index uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAcked = index
	return nil
}

func (f *Fake) Close() error { return nil }

// AppendDeviceLog simulates the device recording an audit entry for some
// unrelated device operation, for tests that exercise the Log Engine drain.
func (f *Fake) AppendDeviceLog(command uint8) LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := uint16(len(f.log) + 1)
	e := LogEntry{Index: idx, Command: command}
	f.log = append(f.log, e)
	return e
}

// ResetCount reports how many times Reset has been called, for backoff tests.
func (f *Fake) ResetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetCount
}
