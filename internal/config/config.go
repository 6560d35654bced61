// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package config loads Fero's YAML configuration files and provides a
// handful of small helpers shared by every binary.
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"gopkg.in/yaml.v3"
)

// ReadFile reads the named file, returning an error if it does not exist.
func ReadFile(filename string) ([]byte, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %q: %w", filename, err)
	}
	return os.ReadFile(filename)
}

// ReadFileFromDir reads configDir/filename.
func ReadFileFromDir(configDir, filename string) ([]byte, error) {
	absPath := filepath.Join(configDir, filename)
	data, err := ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read file %q: %w", absPath, err)
	}
	return data, nil
}

// setDefaults fills any zero-valued field of v tagged `default:"..."` with
// that tag's value. Used after unmarshaling so config files may omit fields
// that have a sane default.
func setDefaults(v interface{}) {
	t := reflect.TypeOf(v).Elem()
	val := reflect.ValueOf(v).Elem()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := val.Field(i)

		tag := field.Tag.Get("default")
		if tag == "" {
			continue
		}
		if fieldVal.Interface() != reflect.Zero(fieldVal.Type()).Interface() {
			continue
		}
		fieldVal.Set(reflect.ValueOf(tag))
	}
}

// Load reads a YAML configuration file from configDir/configFile, unmarshals
// it into v, and fills any `default`-tagged fields left at their zero value.
func Load(configDir, configFile string, v interface{}) error {
	data, err := ReadFileFromDir(configDir, configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration file: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal configuration file: %w", err)
	}
	setDefaults(v)
	return nil
}

// GenerateRandom returns length bytes of cryptographically secure random
// data, used for bootstrapping the audit log's root hash.
func GenerateRandom(length int) ([]byte, error) {
	data := make([]byte, length)
	if _, err := rand.Read(data); err != nil {
		return nil, fmt.Errorf("failed to generate random data: %w", err)
	}
	return data, nil
}
