// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hsm

import (
	"fmt"
	"time"
)

// Backoff retries fn with exponential backoff starting at 15ms, doubling
// each attempt, giving up once the total elapsed wall-clock exceeds budget.
// Used after Reset(), where the connector is expected to report a transient
// network error for a short window (spec §4.1, §5).
func Backoff(budget time.Duration, fn func() error) error {
	delay := 15 * time.Millisecond
	deadline := time.Now().Add(budget)

	var lastErr error
	for {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("giving up after %s: %w", budget, lastErr)
		}
		time.Sleep(delay)
		delay *= 2
	}
}
