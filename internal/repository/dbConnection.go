// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository persists the catalogue blob and its mutation
// history in a small sqlite database, so the server comes back up with
// the configuration it last ran.
package repository

import (
	"database/sql"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens (and if necessary migrates) the sqlite database at the
// given path. Called once at startup.
func Connect(db string) {
	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		dbHandle, err := sqlx.Open("sqlite3WithHooks", db+"?_foreign_keys=on")
		if err != nil {
			cclog.Fatalf("repository: sqlx.Open() error: %v", err)
		}

		// sqlite does not multithread; more than one open connection
		// just means waiting on locks.
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		if err := MigrateDB(dbHandle.DB); err != nil {
			cclog.Fatalf("repository: migration failed: %v", err)
		}
	})
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		cclog.Fatalf("repository: database connection not initialized")
	}
	return dbConnInstance
}
