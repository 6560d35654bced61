// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package auditlog implements Fero's two-level tamper-evident audit log:
// HSM-side entries mirrored into the Store, and a hash-chained Fero-level
// entry appended on every authenticated operation. Grounded on
// original_source/fero-server/src/logging.rs (append protocol) and
// original_source/fero-proto/src/log.rs (hash formula, HSM mirror byte
// layout, offline verification).
package auditlog

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/fero/internal/config"
	"github.com/coreos/fero/internal/ferolog"
	"github.com/coreos/fero/internal/ferr"
	"github.com/coreos/fero/internal/hsm"
	"github.com/coreos/fero/internal/store"
)

// Engine drains the device's audit log into the Store and appends
// hash-chained Fero-level entries recording every authenticated operation.
//
// Its lock is the outermost of the three described in spec §5's acquire
// order (log-engine lock ⊃ hsm-session lock ⊃ store connection): Append
// holds it across the logs_since/insert_hsm_logs/set_log_index/
// insert_fero_log sequence so the mirrored-vs-device state can never
// diverge under concurrent callers.
type Engine struct {
	mu    sync.Mutex
	ops   hsm.Ops
	store *store.Store
	log   *ferolog.Logger
}

// New returns an Engine draining ops into db, logging unexpected conditions
// through lg (may be nil to discard).
func New(db *store.Store, ops hsm.Ops, lg *ferolog.Logger) *Engine {
	return &Engine{store: db, ops: ops, log: lg}
}

// Append executes the seven-step protocol of spec §4.4 for one completed
// operation. A failure that breaks chain continuity (step 2's device drain,
// or any Store insert) is returned wrapped in ferr.KindLogAppendFailure,
// which callers MUST treat as fatal to the process.
func (e *Engine) Append(requestType store.RequestType, result store.Result, timestamp time.Time, identification []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lastKnown, err := e.store.LastHSMIndex()
	if err != nil {
		return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to read last mirrored hsm index: %w", err))
	}

	deviceEntries, err := e.drainDevice(lastKnown)
	if err != nil {
		return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to drain device log, chain continuity at risk: %w", err))
	}

	if wrapped, at := indexWrapped(lastKnown, deviceEntries); wrapped {
		return ferr.New(ferr.KindLogIndexWraparound, fmt.Errorf("device log index wrapped: last mirrored %d, drained entry at position %d has index %d", lastKnown, at, deviceEntries[at].Index))
	}

	mirrored := make([]store.HsmLogEntry, len(deviceEntries))
	for i, d := range deviceEntries {
		mirrored[i] = store.HsmLogEntry{
			HSMIndex:   d.Index,
			Command:    d.Command,
			DataLength: d.DataLength,
			SessionKey: d.SessionKey,
			TargetKey:  d.TargetKey,
			SecondKey:  d.SecondKey,
			Result:     d.Result,
			SysTick:    d.SysTick,
			Hash:       append([]byte{}, d.Hash[:]...),
		}
	}

	newLastIndex, err := e.store.InsertHSMLogs(mirrored)
	if err != nil {
		return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to mirror hsm log entries: %w", err))
	}

	if len(mirrored) > 0 {
		if err := e.ops.SetLogIndex(newLastIndex); err != nil {
			if e.log != nil {
				e.log.Warnf("failed to acknowledge hsm log index %d: %v", newLastIndex, err)
			}
		}
	}

	parent, err := e.store.LastFeroLogEntry()
	if err != nil {
		return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to load predecessor fero log entry: %w", err))
	}
	if parent == nil {
		root, err := newRoot()
		if err != nil {
			return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to seed synthetic root entry: %w", err))
		}
		if err := e.store.InsertFeroLogEntry(root); err != nil {
			return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to insert synthetic root entry: %w", err))
		}
		parent = root
	}

	entry := &store.FeroLogEntry{
		RequestType:       requestType,
		TimestampUnixSec:  timestamp.Unix(),
		TimestampUnixNano: int64(timestamp.Nanosecond()),
		Result:            result,
		HSMIndexStart:     lastKnown,
		HSMIndexEnd:       newLastIndex,
		Identification:    identification,
	}
	entry.Hash = computeHash(entry, mirrored, parent.Hash)

	if err := e.store.InsertFeroLogEntry(entry); err != nil {
		return ferr.New(ferr.KindLogAppendFailure, fmt.Errorf("failed to insert fero log entry: %w", err))
	}
	return nil
}

// drainDevice asks the device for everything past lastKnown, falling back
// to a full Logs() call when nothing has ever been mirrored (hsm indices
// are assigned starting at 1, so lastKnown == 0 unambiguously means "no
// mirrored entry exists yet").
func (e *Engine) drainDevice(lastKnown uint16) ([]hsm.LogEntry, error) {
	if lastKnown == 0 {
		return e.ops.Logs()
	}
	return e.ops.LogsSince(lastKnown)
}

// indexWrapped detects the device's uint16 log index counter having rolled
// over since lastKnown was last observed: a freshly drained batch must be
// strictly increasing and, when lastKnown != 0, must start above it. Any
// entry that fails either check can only be explained by wraparound, since
// the device never reassigns or reorders indices otherwise.
func indexWrapped(lastKnown uint16, entries []hsm.LogEntry) (bool, int) {
	prev := lastKnown
	for i, e := range entries {
		if i == 0 && lastKnown == 0 {
			prev = e.Index
			continue
		}
		if e.Index <= prev {
			return true, i
		}
		prev = e.Index
	}
	return false, -1
}

// newRoot builds the synthetic id=1 entry: a random 32-byte hash seed, no
// other field carries meaning.
func newRoot() (*store.FeroLogEntry, error) {
	seed, err := config.GenerateRandom(32)
	if err != nil {
		return nil, err
	}
	return &store.FeroLogEntry{Hash: seed}, nil
}

// serializeHSMMirror concatenates a batch's big-endian byte layout per
// spec §4.4, in ascending index order (the order callers must already
// provide, since the Store mirrors entries device-order which is ascending).
func serializeHSMMirror(batch []store.HsmLogEntry) []byte {
	var buf bytes.Buffer
	for _, e := range batch {
		binary.Write(&buf, binary.BigEndian, e.HSMIndex)
		buf.WriteByte(e.Command)
		binary.Write(&buf, binary.BigEndian, e.DataLength)
		binary.Write(&buf, binary.BigEndian, e.SessionKey)
		binary.Write(&buf, binary.BigEndian, e.TargetKey)
		binary.Write(&buf, binary.BigEndian, e.SecondKey)
		buf.WriteByte(e.Result)
		binary.Write(&buf, binary.BigEndian, e.SysTick)
		buf.Write(e.Hash)
	}
	return buf.Bytes()
}

// computeHash implements spec §3's hash formula:
// SHA-256(request_type_byte ‖ timestamp_seconds_i64_be ‖ result_byte ‖
// concat(hsm_entries_bytes) ‖ identification_bytes_or_empty ‖ parent_hash).
func computeHash(entry *store.FeroLogEntry, mirror []store.HsmLogEntry, parentHash []byte) []byte {
	h := sha256.New()
	h.Write([]byte{byte(entry.RequestType)})
	binary.Write(h, binary.BigEndian, entry.TimestampUnixSec)
	h.Write([]byte{byte(entry.Result)})
	h.Write(serializeHSMMirror(mirror))
	h.Write(entry.Identification)
	h.Write(parentHash)
	return h.Sum(nil)
}

// Verify recomputes the hash chain over entries (which MUST be contiguous
// and ascending by id) and reports the index of the first mismatch, or -1
// if the whole chain verifies. A chain whose first id is not 1 is not
// walked: Verify returns -1 with an error. Each entry's own associated HSM mirror must
// be supplied in assoc, keyed by entry id, since Verify operates on a
// retrieved chain rather than a live Store.
func Verify(entries []store.FeroLogEntry, assoc map[uint64][]store.HsmLogEntry) (int, error) {
	if len(entries) == 0 {
		return -1, nil
	}
	if entries[0].ID != 1 {
		return -1, fmt.Errorf("warning: smallest id in chain is %d, not 1; root is untrusted", entries[0].ID)
	}

	for i := 1; i < len(entries); i++ {
		want := computeHash(&entries[i], assoc[entries[i].ID], entries[i-1].Hash)
		if !bytes.Equal(want, entries[i].Hash) {
			return i, fmt.Errorf("hash mismatch at entry id %d", entries[i].ID)
		}
	}
	return -1, nil
}
