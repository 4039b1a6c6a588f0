// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"

	"github.com/eric-wood/OpenRemote/internal/config"
)

// Size is the size of the controller register image: the full 16-bit address space.
const Size = 1 << 16

// Storage defines the interface for persisting the simulated register image.
//
// The image is a live trace of the register file. The controller resets it on
// power-up like the real chip, so stored contents only survive until the next
// controller is created on the same backend.
type Storage interface {
	// Load returns the register image, Size bytes long.
	// The returned slice stays owned by the storage and is written in place.
	Load() ([]byte, error)

	// Save flushes the image to its backing store.
	Save(image []byte) error

	// OnWrite is a hook called after n bytes starting at addr were modified.
	OnWrite(addr uint16, n int)

	// Close releases the backing store.
	Close() error
}

// New creates the storage selected by cfg.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "file":
		slog.Info("Register image with file persistence", "path", cfg.Path)
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		slog.Info("Register image with MMAP persistence", "path", cfg.Path)
		return NewMmapStorage(cfg.Path), nil
	case "sql":
		slog.Info("Register image with SQL persistence", "driver", "sqlite3", "dsn", cfg.Path)
		return NewSQLStorage("sqlite3", cfg.Path), nil
	case "memory", "":
		slog.Info("Register image in memory (non-persistent)")
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
