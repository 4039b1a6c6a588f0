// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.uber.org/multierr"
)

// FileStorage keeps the register image in a regular file.
// Every modified range is written through; Save additionally syncs to disk.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the image from the file, creating and sizing it if necessary.
func (fs *FileStorage) Load() ([]byte, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Size() != Size {
		if err := f.Truncate(Size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fs.file = f
	fs.data = data
	return data, nil
}

// Save writes the whole image and syncs the file.
func (fs *FileStorage) Save(image []byte) error {
	if fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(image, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// OnWrite writes the modified range through to the file.
func (fs *FileStorage) OnWrite(addr uint16, n int) {
	if fs.file == nil || fs.data == nil {
		return
	}
	end := int(addr) + n
	if end > len(fs.data) {
		end = len(fs.data)
	}
	if _, err := fs.file.WriteAt(fs.data[addr:end], int64(addr)); err != nil {
		slog.Error("Failed to write register range", "addr", addr, "n", n, "err", err)
	}
}

// Close syncs and closes the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := multierr.Combine(fs.file.Sync(), fs.file.Close())
	fs.file = nil
	fs.data = nil
	return err
}
