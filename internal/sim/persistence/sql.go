// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// pageSize is the unit the image is stored in. One row per page.
const pageSize = 256

// SQLStorage persists the image in a SQL database, one row per 256-byte page.
// It creates the `w5100_pages` table if it does not exist.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	data   []byte
}

// NewSQLStorage creates a new SQLStorage.
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
	}
}

// Load connects to the DB and assembles the image from the stored pages.
func (s *SQLStorage) Load() ([]byte, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := s.initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	data := make([]byte, Size)
	rows, err := db.Query("SELECT page, data FROM w5100_pages")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var page int
		var b []byte
		if err := rows.Scan(&page, &b); err != nil {
			continue
		}
		if page < 0 || page >= Size/pageSize {
			continue
		}
		copy(data[page*pageSize:(page+1)*pageSize], b)
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}

	s.db = db
	s.data = data
	return data, nil
}

func (s *SQLStorage) initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS w5100_pages (
		page INTEGER PRIMARY KEY,
		data BLOB
	);
	`
	_, err := db.Exec(query)
	return err
}

// Save writes every page in one transaction.
func (s *SQLStorage) Save(image []byte) error {
	if s.db == nil {
		return nil
	}
	return s.writePages(image, 0, Size/pageSize)
}

// OnWrite upserts the pages touched by the modified range.
func (s *SQLStorage) OnWrite(addr uint16, n int) {
	if s.db == nil || s.data == nil || n <= 0 {
		return
	}
	first := int(addr) / pageSize
	last := (int(addr) + n - 1) / pageSize
	if last >= Size/pageSize {
		last = Size/pageSize - 1
	}
	if err := s.writePages(s.data, first, last+1); err != nil {
		slog.Error("Failed to persist register pages", "addr", addr, "n", n, "err", err)
	}
}

// writePages upserts pages [from, to) of image.
func (s *SQLStorage) writePages(image []byte, from, to int) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.Prepare("INSERT INTO w5100_pages (page, data) VALUES (?, ?) ON CONFLICT(page) DO UPDATE SET data=excluded.data")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for page := from; page < to; page++ {
		if _, err = stmt.Exec(page, image[page*pageSize:(page+1)*pageSize]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.data = nil
	return err
}
