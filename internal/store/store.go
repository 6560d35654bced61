// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package store persists Fero's relational state: secrets, users, the
// user-to-secret weight matrix, the Fero audit log, and its HSM log mirror.
//
// It is a thin wrapper around gorm, adapted from the connector pattern in
// the teacher's proxy_buffer/store package, generalized from a single
// device/SKU key-value table to Fero's full relational schema.
package store

import (
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// RequestType identifies the kind of operation a FeroLogEntry records.
type RequestType uint8

const (
	RequestSign RequestType = iota
	RequestThreshold
	RequestWeight
	RequestAddSecret
	RequestAddUser
)

// Result is the outcome of an audited operation.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultFailure
)

// Secret is a private signing key registered with Fero.
type Secret struct {
	ID        uint64 `gorm:"primarykey"`
	HSMID     uint16 `gorm:"uniqueIndex;not null"`
	Name      string `gorm:"uniqueIndex;not null"`
	KeyID     *uint64
	Threshold int32
}

// User is a natural person holding a registered PGP keypair.
type User struct {
	ID      uint64 `gorm:"primarykey"`
	KeyID   uint64 `gorm:"uniqueIndex;not null"`
	KeyData []byte
}

// Weight is one user's numeric contribution toward a secret's threshold.
// Unique per (UserID, SecretID); an absent row is equivalent to weight 0.
type Weight struct {
	UserID   uint64 `gorm:"uniqueIndex:idx_user_secret;not null"`
	SecretID uint64 `gorm:"uniqueIndex:idx_user_secret;not null"`
	Weight   int32
}

// HsmLogEntry mirrors one device-side audit record.
type HsmLogEntry struct {
	ID         uint64 `gorm:"primarykey"`
	HSMIndex   uint16 `gorm:"index"`
	Command    uint8
	DataLength uint16
	SessionKey uint16
	TargetKey  uint16
	SecondKey  uint16
	Result     uint8
	SysTick    uint32
	Hash       []byte // 16 bytes, device-assigned
}

// FeroLogEntry is one hash-chained record of an authenticated operation.
type FeroLogEntry struct {
	ID                uint64 `gorm:"primarykey"`
	RequestType       RequestType
	TimestampUnixSec  int64
	TimestampUnixNano int64
	Result            Result
	HSMIndexStart     uint16
	HSMIndexEnd       uint16
	Identification    []byte // optional; serialized request identification
	Hash              []byte // 32 bytes
}

// Store is the persistence layer for all of Fero's relational state.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) a sqlite-backed Store at path and runs
// schema migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")

	if err := db.AutoMigrate(&Secret{}, &User{}, &Weight{}, &HsmLogEntry{}, &FeroLogEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access db handle: %w", err)
	}
	return sqlDB.Close()
}

// CreateSecret inserts a new secret row.
func (s *Store) CreateSecret(secret *Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(secret).Error; err != nil {
		return fmt.Errorf("failed to insert secret %q: %w", secret.Name, err)
	}
	return nil
}

// GetSecretByName returns the secret registered under name.
func (s *Store) GetSecretByName(name string) (*Secret, error) {
	var secret Secret
	r := s.db.First(&secret, "name = ?", name)
	if r.Error != nil {
		return nil, r.Error
	}
	return &secret, nil
}

// UpdateThreshold sets the threshold of the named secret. It is the only
// mutation a secret's row ever undergoes.
func (s *Store) UpdateThreshold(name string, threshold int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.db.Model(&Secret{}).Where("name = ?", name).Update("threshold", threshold)
	if r.Error != nil {
		return fmt.Errorf("failed to update threshold for secret %q: %w", name, r.Error)
	}
	if r.RowsAffected == 0 {
		return fmt.Errorf("no secret named %q", name)
	}
	return nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(user).Error; err != nil {
		return fmt.Errorf("failed to insert user %d: %w", user.KeyID, err)
	}
	return nil
}

// GetUserByKeyID returns the user registered under the given PGP key id.
func (s *Store) GetUserByKeyID(keyID uint64) (*User, error) {
	var user User
	r := s.db.First(&user, "key_id = ?", keyID)
	if r.Error != nil {
		return nil, r.Error
	}
	return &user, nil
}

// UpsertWeight creates or updates the (user, secret) weight row.
func (s *Store) UpsertWeight(userID, secretID uint64, weight int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing Weight
	r := s.db.First(&existing, "user_id = ? AND secret_id = ?", userID, secretID)
	if r.Error == nil {
		if err := s.db.Model(&existing).Update("weight", weight).Error; err != nil {
			return fmt.Errorf("failed to update weight: %w", err)
		}
		return nil
	}

	w := &Weight{UserID: userID, SecretID: secretID, Weight: weight}
	if err := s.db.Create(w).Error; err != nil {
		return fmt.Errorf("failed to insert weight: %w", err)
	}
	return nil
}

// WeightRow is one (user key id, weight) pair of a secret's registered
// signers, used by the Authorizer to build its ephemeral keyring.
type WeightRow struct {
	UserID  uint64
	KeyID   uint64
	KeyData []byte
	Weight  int32
}

// WeightsForSecret returns every user that has a weight row for secretID.
func (s *Store) WeightsForSecret(secretID uint64) ([]WeightRow, error) {
	var rows []WeightRow
	r := s.db.Table("weights").
		Select("weights.user_id as user_id, users.key_id as key_id, users.key_data as key_data, weights.weight as weight").
		Joins("JOIN users ON users.id = weights.user_id").
		Where("weights.secret_id = ?", secretID).
		Scan(&rows)
	if r.Error != nil {
		return nil, fmt.Errorf("failed to load weights for secret: %w", r.Error)
	}
	return rows, nil
}

// WeightFor returns the configured weight for (userID, secretID), or 0 if no
// row exists — an absent pair is equivalent to weight 0, never negative by
// omission.
func (s *Store) WeightFor(userID, secretID uint64) (int32, error) {
	var w Weight
	r := s.db.First(&w, "user_id = ? AND secret_id = ?", userID, secretID)
	if r.Error != nil {
		if r.Error == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, r.Error
	}
	return w.Weight, nil
}

// LastHSMIndex returns the hsm_index of the most recently mirrored HSM log
// entry, or 0 if none has been mirrored yet.
func (s *Store) LastHSMIndex() (uint16, error) {
	var entry HsmLogEntry
	r := s.db.Order("hsm_index desc").First(&entry)
	if r.Error != nil {
		if r.Error == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, r.Error
	}
	return entry.HSMIndex, nil
}

// InsertHSMLogs appends a batch of mirrored HSM log entries in a single
// transaction and returns the hsm_index of the last entry inserted.
func (s *Store) InsertHSMLogs(batch []HsmLogEntry) (uint16, error) {
	if len(batch) == 0 {
		last, err := s.LastHSMIndex()
		return last, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			if err := tx.Create(&batch[i]).Error; err != nil {
				return fmt.Errorf("failed to insert hsm log entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return batch[len(batch)-1].HSMIndex, nil
}

// AssociatedHSMLogs returns the mirrored entries whose hsm_index falls in
// (entry.HSMIndexStart, entry.HSMIndexEnd], ascending.
func (s *Store) AssociatedHSMLogs(entry *FeroLogEntry) ([]HsmLogEntry, error) {
	var logs []HsmLogEntry
	r := s.db.Where("hsm_index > ? AND hsm_index <= ?", entry.HSMIndexStart, entry.HSMIndexEnd).
		Order("hsm_index asc").
		Find(&logs)
	if r.Error != nil {
		return nil, fmt.Errorf("failed to load associated hsm logs: %w", r.Error)
	}
	return logs, nil
}

// LastFeroLogEntry returns the Fero log entry with the highest id, or nil if
// the log is empty.
func (s *Store) LastFeroLogEntry() (*FeroLogEntry, error) {
	var entry FeroLogEntry
	r := s.db.Order("id desc").First(&entry)
	if r.Error != nil {
		if r.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, r.Error
	}
	return &entry, nil
}

// InsertFeroLogEntry appends a new Fero log entry. Callers are responsible
// for holding the log-engine lock across the logs_since/insert_hsm_logs/
// set_log_index/insert_fero_log sequence this call is part of.
func (s *Store) InsertFeroLogEntry(entry *FeroLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert fero log entry: %w", err)
	}
	return nil
}

// FeroLogsSince returns Fero log entries with id >= minID, ascending.
func (s *Store) FeroLogsSince(minID uint64) ([]FeroLogEntry, error) {
	var logs []FeroLogEntry
	r := s.db.Where("id >= ?", minID).Order("id asc").Find(&logs)
	if r.Error != nil {
		return nil, fmt.Errorf("failed to load fero logs: %w", r.Error)
	}
	return logs, nil
}
