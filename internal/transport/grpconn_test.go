// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// selfSignedCert writes a self-signed certificate/key pair and its own PEM
// bytes (usable as both the leaf cert and its own CA root) to dir.
func selfSignedCert(t *testing.T, dir, name string) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, name+"-cert.pem")
	keyPath = filepath.Join(dir, name+"-key.pem")

	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0644))
	return certPath, keyPath
}

func TestLoadServerCredentials_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := selfSignedCert(t, dir, "server")

	creds, err := LoadServerCredentials(certPath, certPath, keyPath)
	require.NoError(t, err)
	require.Equal(t, "tls", creds.Info().SecurityProtocol)
}

func TestLoadClientCredentials_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := selfSignedCert(t, dir, "client")

	creds, err := LoadClientCredentials(certPath, certPath, keyPath)
	require.NoError(t, err)
	require.Equal(t, "tls", creds.Info().SecurityProtocol)
}

func TestLoadServerCredentials_MissingRootsFile(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := selfSignedCert(t, dir, "server")

	_, err := LoadServerCredentials(filepath.Join(dir, "does-not-exist.pem"), certPath, keyPath)
	require.Error(t, err)
}

func TestExtractClientIP_NoPeerInContext(t *testing.T) {
	_, err := ExtractClientIP(context.Background())
	require.Error(t, err)
}
