// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/multierr"
)

// MmapStorage maps the register image from a file.
// The mapping is shared, so other processes can watch the registers live
// (e.g. `xxd -s 0x0400 -l 0x30 regs.bin`).
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// Load maps the file, creating and sizing it if necessary.
func (ms *MmapStorage) Load() ([]byte, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Size() != Size {
		if err := f.Truncate(Size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.file = f
	ms.data = data
	return data, nil
}

// Save flushes the mapping to disk.
func (ms *MmapStorage) Save(image []byte) error {
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	return ms.data.Flush()
}

// OnWrite is a no-op. The mapping is shared; Save flushes it.
func (ms *MmapStorage) OnWrite(addr uint16, n int) {}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		err = multierr.Append(err, ms.data.Unmap())
		ms.data = nil
	}
	if ms.file != nil {
		err = multierr.Append(err, ms.file.Close())
		ms.file = nil
	}
	return err
}
