// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	lockFileName = "~lock"

	ErrLocked          = ConstError("directory is locked by another owner")
	ErrAlreadyReleased = ConstError("lock has already been released")
)

// DirectoryLock marks exclusive ownership of a directory by the existence
// of a lock file within it. A lock that is not released, e.g. because the
// owning process crashed, stays in place until the file is removed manually.
type DirectoryLock struct {
	path string
	file *os.File
}

// LockDirectory acquires the lock of the given directory, creating the
// directory if needed.
func LockDirectory(directory string) (*DirectoryLock, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(directory, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, directory)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", directory, err)
	}
	return &DirectoryLock{path: path, file: file}, nil
}

// Valid is true until the lock is released.
func (l *DirectoryLock) Valid() bool {
	return l.file != nil
}

// Release removes the lock file. A lock may only be released once.
func (l *DirectoryLock) Release() error {
	if l.file == nil {
		return ErrAlreadyReleased
	}
	err := errors.Join(l.file.Close(), os.Remove(l.path))
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}

// Close releases the lock. It allows a lock to be handled like other
// closable resources.
func (l *DirectoryLock) Close() error {
	return l.Release()
}
