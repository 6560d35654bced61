// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package version provides access to build version variables and a
// formatted version string for Fero's binaries.
package version

import "fmt"

var (
	// The following variables are intended to be set at link time via
	// -ldflags "-X ...". Defaults are used for unlinked/dev builds.

	// BuildHost is the hostname the binary was built on.
	BuildHost = "unknown"

	// BuildUser is the user the binary was built as.
	BuildUser = "unknown"

	// BuildTimestamp is the build time, as a decimal unix timestamp.
	BuildTimestamp = "0"

	// SCMRevision is the VCS commit or release tag the binary was built from.
	SCMRevision = "unknown"

	// SCMStatus is "clean" or "dirty" depending on whether the working tree
	// had uncommitted changes at build time.
	SCMStatus = "unknown"
)

// FormattedStr returns a single-line human-readable version string suitable
// for a --version flag or startup log line.
func FormattedStr() string {
	return fmt.Sprintf("Version: %s-%s Host: %q User: %q Timestamp: %s",
		SCMRevision, SCMStatus, BuildHost, BuildUser, BuildTimestamp)
}
