// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hsm

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"fmt"
	"time"
)

// digestInfoPrefix holds the DER encoding of the DigestInfo SEQUENCE minus
// the trailing hash bytes, for each hash algorithm PKCS#1 v1.5 signing
// supports. Hardcoded literally rather than built with a generic ASN.1
// encoder, matching the teacher's own SignRSAPKCS1v15PreHashed.
var digestInfoPrefix = map[crypto.Hash][]byte{
	crypto.SHA256: {
		0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
		0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05,
		0x00, 0x04, 0x20,
	},
	crypto.SHA384: {
		0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
		0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05,
		0x00, 0x04, 0x30,
	},
	crypto.SHA512: {
		0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
		0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05,
		0x00, 0x04, 0x40,
	},
}

// DigestInfo builds the DER-encoded DigestInfo blob PKCS#1 v1.5 signing
// expects: SEQUENCE{ SEQUENCE{ OID(hash_algo), NULL }, OCTET STRING(hash) }.
func DigestInfo(algo DigestAlgorithm, hashed []byte) ([]byte, error) {
	prefix, ok := digestInfoPrefix[algo.Hash]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %v", algo.Hash)
	}
	if len(hashed) != algo.Hash.Size() {
		return nil, fmt.Errorf("hash length %d does not match %v", len(hashed), algo.Hash)
	}
	return append(append([]byte{}, prefix...), hashed...), nil
}

// SignRaw computes the PKCS#1 v1.5 signature of message under the key at
// hsmID, hashing locally and delegating only the RSA operation to the
// device. This is the "Raw PKCS1 signature" mode of spec §4.1.
func SignRaw(ops Ops, hsmID uint16, algo DigestAlgorithm, message []byte) ([]byte, error) {
	h := algo.Hash.New()
	h.Write(message)
	hashed := h.Sum(nil)

	di, err := DigestInfo(algo, hashed)
	if err != nil {
		return nil, err
	}
	return ops.SignPKCS1v15(hsmID, di)
}

// pgpPubKeyAlgoRSASign is RFC 4880's algorithm id for "RSA (Encrypt or
// Sign)", the id verifiers expect on an RSA signing key.
const pgpPubKeyAlgoRSASign = 1

// pgpSigTypeBinary is RFC 4880's signature type for a binary document.
const pgpSigTypeBinary = 0x00

const (
	subpacketSignatureCreationTime = 2
	subpacketIssuer                = 16
)

// buildHashedSubpackets returns the hashed subpacket area: a single
// signature-creation-time subpacket, which is all Fero's signatures carry.
func buildHashedSubpackets(created time.Time) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint32(created.Unix()))
	return encodeSubpacket(subpacketSignatureCreationTime, body.Bytes())
}

func buildUnhashedSubpackets(keyID uint64) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, keyID)
	return encodeSubpacket(subpacketIssuer, body.Bytes())
}

// encodeSubpacket prepends a new-format subpacket length header (RFC 4880
// §5.2.3.1) to tag||body.
func encodeSubpacket(tag byte, body []byte) []byte {
	length := len(body) + 1 // +1 for the subpacket type byte
	var out bytes.Buffer
	switch {
	case length < 192:
		out.WriteByte(byte(length))
	case length < 8384:
		l := length - 192
		out.WriteByte(byte((l >> 8) + 192))
		out.WriteByte(byte(l))
	default:
		out.WriteByte(0xFF)
		binary.Write(&out, binary.BigEndian, uint32(length))
	}
	out.WriteByte(tag)
	out.Write(body)
	return out.Bytes()
}

// signablePayload builds the bytes actually hashed for a v4 signature:
// the signed data, the signature's version/type/algo/hash-algo header and
// hashed-subpacket area, and the two-step trailer (RFC 4880 §5.2.4).
func signablePayload(payload []byte, hashAlgoID uint8, hashedSubpackets []byte) []byte {
	var header bytes.Buffer
	header.WriteByte(4) // version
	header.WriteByte(pgpSigTypeBinary)
	header.WriteByte(pgpPubKeyAlgoRSASign)
	header.WriteByte(hashAlgoID)
	binary.Write(&header, binary.BigEndian, uint16(len(hashedSubpackets)))
	header.Write(hashedSubpackets)

	var trailer bytes.Buffer
	trailer.WriteByte(4)
	trailer.WriteByte(0xFF)
	binary.Write(&trailer, binary.BigEndian, uint32(header.Len()))

	out := make([]byte, 0, len(payload)+header.Len()+trailer.Len())
	out = append(out, payload...)
	out = append(out, header.Bytes()...)
	out = append(out, trailer.Bytes()...)
	return out
}

// encodeMPI encodes b as an OpenPGP multiprecision integer: a two-byte
// bit-length header followed by the big-endian value with no leading
// zero bytes.
func encodeMPI(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}

	var bits int
	if len(b) > 0 {
		bits = (len(b)-1)*8 + bitLen(b[0])
	}

	out := make([]byte, 2, 2+len(b))
	binary.BigEndian.PutUint16(out, uint16(bits))
	return append(out, b...)
}

// bitLen returns the position of the highest set bit in b, 1-8, or 0 if b
// is zero.
func bitLen(b byte) int {
	n := 0
	for b != 0 {
		b >>= 1
		n++
	}
	return n
}

// newFormatPacketHeader returns the RFC 4880 §4.2.2 new-format packet
// header for a signature packet (tag 2) of the given body length.
func newFormatPacketHeader(bodyLen int) []byte {
	const sigTag = 2
	var out bytes.Buffer
	out.WriteByte(0xC0 | sigTag)
	switch {
	case bodyLen < 192:
		out.WriteByte(byte(bodyLen))
	case bodyLen < 8384:
		l := bodyLen - 192
		out.WriteByte(byte((l >> 8) + 192))
		out.WriteByte(byte(l))
	default:
		out.WriteByte(0xFF)
		binary.Write(&out, binary.BigEndian, uint32(bodyLen))
	}
	return out.Bytes()
}

// SignPGP produces a detached OpenPGP v4 signature packet over payload,
// using the device to perform the RSA operation over a DigestInfo built
// from the packet's own signable-payload hash. The packet is constructed
// by hand per RFC 4880 rather than through a library's signing path (the
// device, not an in-process private key, performs the RSA step), following
// fero-server/src/hsm.rs's create_digestinfo/create_signature.
func SignPGP(ops Ops, hsmID uint16, keyID uint64, algo DigestAlgorithm, payload []byte) ([]byte, error) {
	created := time.Now()
	hashedSubpackets := buildHashedSubpackets(created)
	unhashedSubpackets := buildUnhashedSubpackets(keyID)

	signable := signablePayload(payload, algo.PGPHashID, hashedSubpackets)

	h := algo.Hash.New()
	h.Write(signable)
	hashed := h.Sum(nil)

	di, err := DigestInfo(algo, hashed)
	if err != nil {
		return nil, err
	}

	raw, err := ops.SignPKCS1v15(hsmID, di)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digestinfo: %w", err)
	}

	var body bytes.Buffer
	body.WriteByte(4) // version
	body.WriteByte(pgpSigTypeBinary)
	body.WriteByte(pgpPubKeyAlgoRSASign)
	body.WriteByte(algo.PGPHashID)
	binary.Write(&body, binary.BigEndian, uint16(len(hashedSubpackets)))
	body.Write(hashedSubpackets)
	binary.Write(&body, binary.BigEndian, uint16(len(unhashedSubpackets)))
	body.Write(unhashedSubpackets)
	body.Write(hashed[:2]) // left 16 bits of hash, a quick-reject check
	body.Write(encodeMPI(raw))

	var out bytes.Buffer
	out.Write(newFormatPacketHeader(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
