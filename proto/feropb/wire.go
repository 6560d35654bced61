// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package feropb

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// MarshalIdentification produces the deterministic protocol-buffer encoding
// of ident, the exact bytes the Log Engine persists in
// FeroLogEntry.identification (spec §6). The same library marshals and
// later unmarshals this field, which is all determinism requires here.
func MarshalIdentification(ident *Identification) ([]byte, error) {
	data, err := proto.Marshal(ident)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identification: %w", err)
	}
	return data, nil
}

// UnmarshalIdentification parses bytes previously produced by
// MarshalIdentification.
func UnmarshalIdentification(data []byte) (*Identification, error) {
	ident := &Identification{}
	if err := proto.Unmarshal(data, ident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identification: %w", err)
	}
	return ident, nil
}
