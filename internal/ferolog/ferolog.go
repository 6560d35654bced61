// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package ferolog implements a small wrapper around the standard log
// package used across every Fero binary.
//
// Output goes to stderr and, optionally, to a rotating log file.
package ferolog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const timeFormat = "20060102150405"

type Level int

const (
	LevelFatal Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelFatal:
		return "FATAL:"
	case LevelError:
		return "ERROR:"
	case LevelWarn:
		return "WARN: "
	case LevelInfo:
		return "INFO: "
	case LevelDebug:
		return "DEBUG:"
	default:
		return fmt.Sprintf("%d", int(l))
	}
}

// Logger is a leveled logger that writes to stderr and, if opened with a
// file path, mirrors every line into a rotating log file.
type Logger struct {
	level      Level
	fatalLog   *log.Logger
	errorLog   *log.Logger
	warnLog    *log.Logger
	infoLog    *log.Logger
	debugLog   *log.Logger
	logFile    *os.File
	createTime time.Time
	mu         sync.Mutex
}

// New returns a stderr-only logger at the given level.
func New(level Level) *Logger {
	wrt := os.Stderr
	return &Logger{
		level:      level,
		fatalLog:   log.New(wrt, "", 0),
		errorLog:   log.New(wrt, "", 0),
		warnLog:    log.New(wrt, "", 0),
		infoLog:    log.New(wrt, "", 0),
		debugLog:   log.New(wrt, "", 0),
		createTime: time.Now(),
	}
}

// NewFile returns a logger that mirrors output to path in addition to
// stderr, rotating the file weekly.
func NewFile(path string, level Level) (*Logger, error) {
	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		return nil, fmt.Errorf("log directory %s does not exist", filepath.Dir(path))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot create log file: %w", err)
	}

	wrt := io.MultiWriter(os.Stderr, f)
	return &Logger{
		level:      level,
		fatalLog:   log.New(wrt, "", 0),
		errorLog:   log.New(wrt, "", 0),
		warnLog:    log.New(wrt, "", 0),
		infoLog:    log.New(wrt, "", 0),
		debugLog:   log.New(wrt, "", 0),
		logFile:    f,
		createTime: time.Now(),
	}, nil
}

func (l *Logger) rotate() error {
	if l.logFile == nil {
		return nil
	}
	if time.Since(l.createTime) < 7*24*time.Hour {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	name := l.logFile.Name()
	rotated := name + "_" + time.Now().Format(timeFormat)
	if err := os.Rename(name, rotated); err != nil {
		return fmt.Errorf("cannot rotate log file: %w", err)
	}

	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("cannot reopen log file: %w", err)
	}
	old := l.logFile
	l.logFile = f
	l.createTime = time.Now()
	wrt := io.MultiWriter(os.Stderr, f)
	for _, lg := range []*log.Logger{l.fatalLog, l.errorLog, l.warnLog, l.infoLog, l.debugLog} {
		lg.SetOutput(wrt)
	}
	old.Close()
	return nil
}

func prefix(level Level, msg string) string {
	now := time.Now().Format(timeFormat)
	pc, path, line, ok := runtime.Caller(3)
	if !ok {
		return fmt.Sprintf("%s %s %s", now, level, msg)
	}
	fn := runtime.FuncForPC(pc)
	_, file := filepath.Split(path)
	return fmt.Sprintf("%s %s [%s()] [%s:%d] %s", now, level, fn.Name(), file, line, msg)
}

func (l *Logger) emit(level Level, logger *log.Logger, format string, args ...interface{}) {
	if l == nil || level > l.level {
		return
	}
	logger.Println(prefix(level, fmt.Sprintf(format, args...)))
	l.rotate()
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.emit(LevelFatal, l.fatalLog, format, args...)
	os.Exit(1)
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.emit(LevelError, l.errorLog, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.emit(LevelWarn, l.warnLog, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.emit(LevelInfo, l.infoLog, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.emit(LevelDebug, l.debugLog, format, args...) }

// Close flushes and closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.logFile == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.logFile.Close()
	l.logFile = nil
	return err
}
