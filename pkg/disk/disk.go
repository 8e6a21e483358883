// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package disk provides access to the disk write operations the relay agent
// performs on its own state (configuration document, credential directories,
// log sink).
package disk

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile is a façade to os.WriteFile.
var WriteFile = os.WriteFile

// OpenFile is a façade to os.OpenFile.
var OpenFile = os.OpenFile

// MkdirAll is a façade to os.MkdirAll.
var MkdirAll = os.MkdirAll

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it over path, so readers never observe a partial document. The file
// ends up with mode perm.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("unable to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("unable to set mode on %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("unable to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("unable to move %s over %s: %w", tmpName, path, err)
	}

	tmpName = "" // disarm cleanup
	return nil
}
