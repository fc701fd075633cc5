// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/jmoiron/sqlx"
)

var ErrNoConfig = errors.New("no catalogue stored")

// How many superseded blobs to keep for operator rollback.
const historyKeep = 20

var (
	configStoreOnce     sync.Once
	configStoreInstance *ConfigStore
)

// ConfigStore reads and writes the catalogue blob. Row 1 of
// logic_config is the live blob; every save also appends to the
// history table, trimmed to the last few entries.
type ConfigStore struct {
	db *sqlx.DB
}

func GetConfigStore() *ConfigStore {
	configStoreOnce.Do(func() {
		configStoreInstance = &ConfigStore{db: GetConnection().DB}
	})
	return configStoreInstance
}

// Load returns the live blob and its serial at the time of the save.
func (s *ConfigStore) Load() ([]byte, uint64, error) {
	var row struct {
		Serial int64  `db:"serial"`
		Blob   []byte `db:"blob"`
	}
	err := s.db.Get(&row, `SELECT serial, blob FROM logic_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNoConfig
	}
	if err != nil {
		return nil, 0, err
	}
	return row.Blob, uint64(row.Serial), nil
}

// Save replaces the live blob and appends it to the history.
func (s *ConfigStore) Save(blob []byte, serial uint64) error {
	now := time.Now().Unix()
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO logic_config (id, serial, blob, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET serial = excluded.serial, blob = excluded.blob, updated_at = excluded.updated_at`,
		int64(serial), blob, now); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO logic_config_history (serial, blob, updated_at) VALUES (?, ?, ?)`,
		int64(serial), blob, now); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`DELETE FROM logic_config_history WHERE id NOT IN
		 (SELECT id FROM logic_config_history ORDER BY id DESC LIMIT ?)`, historyKeep); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveAsync is the mutation-hook form: failures are logged, the
// in-memory catalogue is already committed either way.
func (s *ConfigStore) SaveAsync(blob []byte, serial uint64) {
	if err := s.Save(blob, serial); err != nil {
		cclog.Errorf("repository: checkpointing catalogue serial %d failed: %s", serial, err.Error())
	}
}
