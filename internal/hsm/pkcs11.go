// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hsm

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"
)

// idAttr is the CKA_ID-range attribute Fero uses to address asymmetric-key
// objects by their 16-bit hsm_id, since the standard only guarantees a
// CK_OBJECT_HANDLE, which is not stable across sessions.
const idAttr = pkcs11.CKA_ID

// domainsAttr/capsAttr/delegatedCapsAttr are CKA_VENDOR_DEFINED-range
// attributes Fero stores alongside each object to carry the domains and
// capability bitmasks the reference HSM would track natively. The standard
// has no notion of domains/delegated capabilities; this is how the
// PKCS#11-based adapter represents that vendor concept (see DESIGN.md).
const (
	domainsAttr       = pkcs11.CKA_VENDOR_DEFINED + 1
	capsAttr          = pkcs11.CKA_VENDOR_DEFINED + 2
	delegatedCapsAttr = pkcs11.CKA_VENDOR_DEFINED + 3
	authKeyClassAttr  = pkcs11.CKA_VENDOR_DEFINED + 4
)

// PKCS11 is the concrete Ops implementation backed by a real PKCS#11
// module. All device calls are serialized through mu, per the design's
// single-serial-resource requirement for the HSM session (§5): a queue of
// more than one session, as the teacher's se_pk11.go sessionQueue allows,
// would let two device calls overlap, which the design forbids.
type PKCS11 struct {
	ctx        *pkcs11.Ctx
	modulePath string
	slot       uint
	mu         sync.Mutex
	sess       pkcs11.SessionHandle
	hasSess    bool
	vext       *vendorExt
}

// Open loads the PKCS#11 shared library at modulePath and selects slot.
func Open(modulePath string, slot uint) (*PKCS11, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load pkcs11 module %q", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize pkcs11 module: %w", err)
	}
	return &PKCS11{ctx: ctx, modulePath: modulePath, slot: slot}, nil
}

func (p *PKCS11) CreateSession(authkeyID uint16, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, err := p.ctx.OpenSession(p.slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	label := fmt.Sprintf("%d", authkeyID)
	if err := p.ctx.Login(sess, pkcs11.CKU_USER, password); err != nil {
		p.ctx.CloseSession(sess)
		return fmt.Errorf("failed to login as authkey %s: %w", label, err)
	}

	p.sess = sess
	p.hasSess = true
	return nil
}

func (p *PKCS11) requireSession() error {
	if !p.hasSess {
		return fmt.Errorf("no open hsm session")
	}
	return nil
}

func (p *PKCS11) SignPKCS1v15(hsmID uint16, digestInfo []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireSession(); err != nil {
		return nil, err
	}

	obj, err := p.findObject(hsmID, ObjectAsymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find key %d: %w", hsmID, err)
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := p.ctx.SignInit(p.sess, mech, obj); err != nil {
		return nil, fmt.Errorf("failed to begin signing operation: %w", err)
	}
	sig, err := p.ctx.Sign(p.sess, digestInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// PutRSAKey imports the RSA private key described by (n, p, q), computing
// the CRT parameters the device needs the same way the teacher's
// importRSAPrivate does via rsa.PrivateKey.Precompute.
func (pk *PKCS11) PutRSAKey(n, p, q []byte, opts KeyOptions) (uint16, error) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	if err := pk.requireSession(); err != nil {
		return 0, err
	}

	bits := len(n) * 8
	if bits != 2048 && bits != 4096 {
		return 0, fmt.Errorf("unsupported key size %d bits: only 2048/4096 accepted", bits)
	}

	nBig, pBig, qBig := new(big.Int).SetBytes(n), new(big.Int).SetBytes(p), new(big.Int).SetBytes(q)
	d, dp, dq, qinv, err := rsaCRTParams(nBig, pBig, qBig)
	if err != nil {
		return 0, fmt.Errorf("failed to precompute CRT parameters: %w", err)
	}

	id, err := pk.nextFreeID(ObjectAsymmetricKey)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate object id: %w", err)
	}

	tpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nBig.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(65537).Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE_EXPONENT, d.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_PRIME_1, pBig.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_PRIME_2, qBig.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_EXPONENT_1, dp.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_EXPONENT_2, dq.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_COEFFICIENT, qinv.Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(idAttr, encodeID(id)),
		pkcs11.NewAttribute(domainsAttr, encodeID(opts.Domains)),
		pkcs11.NewAttribute(capsAttr, encodeCaps(opts.Capabilities)),
	}

	if _, err := pk.ctx.CreateObject(pk.sess, tpl); err != nil {
		return 0, fmt.Errorf("failed to import rsa key: %w", err)
	}
	return id, nil
}

func (p *PKCS11) ListObjects(objType ObjectType) ([]uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	class := uint(pkcs11.CKO_PRIVATE_KEY)
	tpl := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, class)}
	if objType == ObjectAuthKey {
		tpl = append(tpl, pkcs11.NewAttribute(authKeyClassAttr, []byte{1}))
	}

	if err := p.ctx.FindObjectsInit(p.sess, tpl); err != nil {
		return nil, fmt.Errorf("failed to start object search: %w", err)
	}
	defer p.ctx.FindObjectsFinal(p.sess)

	objs, _, err := p.ctx.FindObjects(p.sess, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate objects: %w", err)
	}

	ids := make([]uint16, 0, len(objs))
	for _, o := range objs {
		attrs, err := p.ctx.GetAttributeValue(p.sess, o, []*pkcs11.Attribute{pkcs11.NewAttribute(idAttr, nil)})
		if err != nil {
			continue
		}
		ids = append(ids, decodeID(attrs[0].Value))
	}
	return ids, nil
}

func (p *PKCS11) GetObjectInfo(id uint16, objType ObjectType) (ObjectInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, err := p.findObject(id, objType)
	if err != nil {
		return ObjectInfo{}, err
	}

	attrs, err := p.ctx.GetAttributeValue(p.sess, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(domainsAttr, nil),
		pkcs11.NewAttribute(capsAttr, nil),
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to read object attributes: %w", err)
	}

	return ObjectInfo{
		ID:           id,
		Domains:      decodeID(attrs[0].Value),
		Capabilities: decodeCaps(attrs[1].Value),
	}, nil
}

func (p *PKCS11) DeleteObject(id uint16, objType ObjectType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, err := p.findObject(id, objType)
	if err != nil {
		return err
	}
	if err := p.ctx.DestroyObject(p.sess, obj); err != nil {
		return fmt.Errorf("failed to destroy object %d: %w", id, err)
	}
	return nil
}

func (p *PKCS11) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasSess {
		p.ctx.CloseSession(p.sess)
		p.hasSess = false
	}
	p.ctx.Finalize()
	p.ctx.Destroy()
	return nil
}

// findObject resolves hsm_id to a live CK_OBJECT_HANDLE. Callers must hold mu.
func (p *PKCS11) findObject(id uint16, objType ObjectType) (pkcs11.ObjectHandle, error) {
	tpl := []*pkcs11.Attribute{pkcs11.NewAttribute(idAttr, encodeID(id))}
	if objType == ObjectAuthKey {
		tpl = append(tpl, pkcs11.NewAttribute(authKeyClassAttr, []byte{1}))
	}

	if err := p.ctx.FindObjectsInit(p.sess, tpl); err != nil {
		return 0, fmt.Errorf("failed to start object search: %w", err)
	}
	defer p.ctx.FindObjectsFinal(p.sess)

	objs, _, err := p.ctx.FindObjects(p.sess, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to find object %d: %w", id, err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("no object with id %d", id)
	}
	return objs[0], nil
}

// nextFreeID scans the ids of all objects on the device (objType does not
// narrow the search) and returns the lowest id >= 1 that none of them uses.
func (p *PKCS11) nextFreeID(objType ObjectType) (uint16, error) {
	used := make(map[uint16]bool)

	tpl := []*pkcs11.Attribute{}
	if err := p.ctx.FindObjectsInit(p.sess, tpl); err != nil {
		return 0, fmt.Errorf("failed to start object search: %w", err)
	}
	objs, _, err := p.ctx.FindObjects(p.sess, 4096)
	p.ctx.FindObjectsFinal(p.sess)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate objects: %w", err)
	}
	for _, o := range objs {
		attrs, err := p.ctx.GetAttributeValue(p.sess, o, []*pkcs11.Attribute{pkcs11.NewAttribute(idAttr, nil)})
		if err != nil || len(attrs[0].Value) == 0 {
			continue
		}
		used[decodeID(attrs[0].Value)] = true
	}

	for id := uint16(1); id < 0xFFFF; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free object id")
}

func encodeID(id uint16) []byte {
	return []byte{byte(id >> 8), byte(id)}
}

func decodeID(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

func encodeCaps(c Capability) []byte {
	b := make([]byte, 8)
	v := uint64(c)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeCaps(b []byte) Capability {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return Capability(v)
}

// rsaCRTParams mirrors rsa.PrivateKey.Precompute's derivation of the
// CRT exponents and coefficient from (n, p, q), needed because the HSM
// adapter builds its own import template rather than going through
// crypto/rsa's Precompute on a full rsa.PrivateKey.
func rsaCRTParams(n, p, q *big.Int) (d, dp, dq, qinv *big.Int, err error) {
	one := big.NewInt(1)
	pMinus1 := new(big.Int).Sub(p, one)
	qMinus1 := new(big.Int).Sub(q, one)
	phi := new(big.Int).Mul(pMinus1, qMinus1)

	e := big.NewInt(65537)
	d = new(big.Int).ModInverse(e, phi)
	if d == nil {
		return nil, nil, nil, nil, fmt.Errorf("public exponent has no inverse mod phi(n)")
	}

	dp = new(big.Int).Mod(d, pMinus1)
	dq = new(big.Int).Mod(d, qMinus1)
	qinv = new(big.Int).ModInverse(q, p)
	if qinv == nil {
		return nil, nil, nil, nil, fmt.Errorf("q has no inverse mod p")
	}
	return d, dp, dq, qinv, nil
}
