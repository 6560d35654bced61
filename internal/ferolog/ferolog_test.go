// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package ferolog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name string
		l    Level
		want string
	}{
		{name: "ValidLevel", l: LevelWarn, want: "WARN: "},
		{name: "InvalidLevel", l: 99, want: "99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fero.log")

	l, err := NewFile(path, LevelInfo)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	defer l.Close()

	l.Infof("hello %s", "world")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) == 0 {
		t.Errorf("expected log file to contain data, got empty")
	}
}

func TestNewFile_MissingDir(t *testing.T) {
	if _, err := NewFile("/no/such/dir/fero.log", LevelInfo); err == nil {
		t.Errorf("NewFile() expected error for missing directory, got nil")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fero.log")
	l, err := NewFile(path, LevelWarn)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	defer l.Close()

	l.Debugf("should not appear")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected no output below configured level, got %q", data)
	}
}
