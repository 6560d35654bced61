// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// CredentialCache is a YAML-encoded, at-rest cache of bcrypt hashes of the
// HSM authkey passwords a Provisioner has created, keyed by authkey id. It
// never stores plaintext. It is advisory, not authoritative: the device
// itself is still the source of truth for whether a password is correct,
// but checking against the cache locally turns a mistyped --password flag
// into an immediate, specific error instead of an opaque HSM authentication
// failure several steps into a CLI command.
//
// Grounded on the teacher's src/utils/utils.go, which hashes and compares
// passwords with the same golang.org/x/crypto/bcrypt calls used here.
type CredentialCache struct {
	Hashes map[uint16]string `yaml:"authkey_password_hashes"`
}

// LoadCredentialCache reads path, returning an empty cache (not an error) if
// the file does not yet exist.
func LoadCredentialCache(path string) (*CredentialCache, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &CredentialCache{Hashes: map[uint16]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential cache %s: %w", path, err)
	}

	var c CredentialCache
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credential cache %s: %w", path, err)
	}
	if c.Hashes == nil {
		c.Hashes = map[uint16]string{}
	}
	return &c, nil
}

// Save writes c to path, owner-readable only: a bcrypt hash still narrows an
// offline guess even though it is not the password itself.
func (c *CredentialCache) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credential cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential cache %s: %w", path, err)
	}
	return nil
}

// Remember bcrypt-hashes password and records it under authkeyID, overwriting
// any prior entry for that id.
func (c *CredentialCache) Remember(authkeyID uint16, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash authkey %d password: %w", authkeyID, err)
	}
	c.Hashes[authkeyID] = string(hash)
	return nil
}

// Check reports whether password matches the hash cached for authkeyID. A
// missing entry reports a match: an uncached authkey is simply not checked,
// since the cache is advisory.
func (c *CredentialCache) Check(authkeyID uint16, password string) (bool, error) {
	hash, ok := c.Hashes[authkeyID]
	if !ok {
		return true, nil
	}
	switch err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err {
	case nil:
		return true, nil
	case bcrypt.ErrMismatchedHashAndPassword:
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare cached authkey %d password: %w", authkeyID, err)
	}
}

// VerifyCachedPassword loads the cache at path (if any) and checks password
// against authkeyID's cached hash, returning an error that names the
// mismatch explicitly. It never fails merely because path or the cache
// entry is absent.
func VerifyCachedPassword(path string, authkeyID uint16, password string) error {
	if path == "" {
		return nil
	}
	cache, err := LoadCredentialCache(path)
	if err != nil {
		return err
	}
	ok, err := cache.Check(authkeyID, password)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("password does not match the cached hash for authkey %d", authkeyID)
	}
	return nil
}
