// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyvehq/relay-agent/pkg/disk"
)

var rLog = WithComponent("LogRotator")

// defaultDatePattern used to generate the filename for the rotated file.
const defaultDatePattern = "YYYY-MM-DD_hh-mm-ss"

// ErrFileNotOpened is returned when an operation cannot be performed because
// the sink file is not opened.
var ErrFileNotOpened = errors.New("cannot perform operation, file is not opened")

// FileWithRotationConfig keeps the configuration for a new FileWithRotation.
type FileWithRotationConfig struct {
	File            string
	FileNamePattern string
	MaxSizeInBytes  int64
}

// FileWithRotation decorates the relay log sink with a size-based rotation
// mechanism.
type FileWithRotation struct {
	sync.Mutex
	cfg FileWithRotationConfig

	file         *os.File
	writtenBytes int64

	getTimeFn func() time.Time
}

// NewFileWithRotation creates a new FileWithRotation.
func NewFileWithRotation(cfg FileWithRotationConfig) *FileWithRotation {
	return &FileWithRotation{
		cfg:       cfg,
		getTimeFn: time.Now,
	}
}

// Open the sink file to write in. If the file doesn't exist, a new one is
// created.
func (f *FileWithRotation) Open() (*FileWithRotation, error) {
	f.Lock()
	defer f.Unlock()

	return f, f.open()
}

// Close the sink file.
func (f *FileWithRotation) Close() error {
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return ErrFileNotOpened
	}

	return f.file.Close()
}

// Write checks whether the new content fits in the current file and rotates
// it beforehand when it does not.
func (f *FileWithRotation) Write(b []byte) (n int, err error) {
	f.Lock()
	defer f.Unlock()

	newContentSize := int64(len(b))

	if newContentSize > f.cfg.MaxSizeInBytes {
		return 0, fmt.Errorf("failed to write to file, new content size: '%db' exceeds the maximum file size: '%db'",
			newContentSize, f.cfg.MaxSizeInBytes)
	}

	if f.cfg.MaxSizeInBytes > 0 && f.writtenBytes+newContentSize > f.cfg.MaxSizeInBytes {
		err = f.rotate()

		// If rotation fails, keep logging into the current file.
		if err != nil {
			if openErr := f.open(); openErr != nil {
				return 0, fmt.Errorf("failed to re-open file after rotate failed, error: %v", openErr)
			}

			rLog.WithError(err).Error("Failed to rotate log file")
		}
	}

	if f.file == nil {
		return 0, ErrFileNotOpened
	}

	writtenBytes, err := f.file.Write(b)
	f.writtenBytes += int64(writtenBytes)

	return writtenBytes, err
}

func (f *FileWithRotation) open() error {
	var err error
	f.file, err = disk.OpenFile(f.cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file, error: %v", err)
	}

	fileStat, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to open log file, error while reading file stat: %v", err)
	}

	f.writtenBytes = fileStat.Size()
	return nil
}

// rotate renames the current file according to the filename pattern and opens
// a new one.
func (f *FileWithRotation) rotate() error {
	if f.file == nil {
		return ErrFileNotOpened
	}

	if err := f.file.Close(); err != nil {
		return fmt.Errorf("failed to rotate file, error while closing the current file: %v", err)
	}

	dir := filepath.Dir(f.cfg.File)
	rotateFileName := filepath.Join(dir, f.generateFileName())

	if err := os.Rename(f.cfg.File, rotateFileName); err != nil {
		return fmt.Errorf("failed to rotate file, error while moving the current file: %v", err)
	}

	if err := f.open(); err != nil {
		return fmt.Errorf("failed to create new file after rotation, error: %v", err)
	}

	return nil
}

// generateFileName builds the rotated filename. When no pattern is configured
// the current filename is suffixed with a timestamp before the extension.
func (f *FileWithRotation) generateFileName() string {
	pattern := f.cfg.FileNamePattern

	if pattern == "" {
		ext := filepath.Ext(f.cfg.File)
		fileName := filepath.Base(f.cfg.File)
		fileName = strings.TrimSuffix(fileName, ext)

		pattern = fmt.Sprintf("%s_%s%s", fileName, defaultDatePattern, ext)
	}

	return formatTime(pattern, f.getTimeFn())
}

// formatTime replaces the supported date tokens in pattern with ts values.
func formatTime(pattern string, ts time.Time) string {
	tokens := map[string]string{
		"YYYY": fmt.Sprintf("%d", ts.Year()),
		"MM":   fmt.Sprintf("%02d", ts.Month()),
		"DD":   fmt.Sprintf("%02d", ts.Day()),
		"hh":   fmt.Sprintf("%02d", ts.Hour()),
		"mm":   fmt.Sprintf("%02d", ts.Minute()),
		"ss":   fmt.Sprintf("%02d", ts.Second()),
	}

	for token, replacer := range tokens {
		pattern = strings.Replace(pattern, token, replacer, -1)
	}
	return pattern
}
