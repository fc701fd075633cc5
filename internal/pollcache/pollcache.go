// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pollcache tracks the upstream driver fields the catalogue
// references. It keeps exactly one record per distinct moniker.field,
// refreshes all records once per scheduler tick, and hands out cheap
// handles so the evaluators can read snapshots without touching the
// provider again.
package pollcache

import (
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// FieldProvider is the driver runtime the logic server sits on top of.
// Reads are synchronous; keeping them short is the provider's contract.
type FieldProvider interface {
	// Read returns the current value of a driver field and the time it
	// was last written by the driver.
	Read(moniker, field string) (schema.Value, time.Time, error)
	// SendCommand forwards a field write to the owning driver.
	SendCommand(moniker, field, value string) error
}

type record struct {
	moniker string
	field   string

	val     schema.Value
	err     bool
	changed bool
	seen    bool // ever successfully read

	refs int
}

// Cache is the poll record table. It is owned by the scheduler
// goroutine: Register and ForgetUnused run under the engine's catalogue
// write lock, Tick and Snapshot from the tick path only.
type Cache struct {
	records []*record
	index   map[string]int
}

func New() *Cache {
	return &Cache{index: make(map[string]int)}
}

// Register resolves a descriptor's source list to handles, creating
// records lazily and deduplicating across the whole catalogue. The
// returned handles are index-aligned with sources.
func (c *Cache) Register(sources []string) ([]int, error) {
	handles := make([]int, len(sources))
	for i, src := range sources {
		moniker, field, err := schema.ParseSource(src)
		if err != nil {
			return nil, err
		}
		h, ok := c.index[src]
		if !ok {
			h = len(c.records)
			rec := &record{moniker: moniker, field: field, err: true}
			rec.val = schema.NewValue(schema.TypeString)
			c.records = append(c.records, rec)
			c.index[src] = h
		}
		c.records[h].refs++
		handles[i] = h
	}
	return handles, nil
}

// Release drops the reference counts taken by Register. Records stay in
// place until ForgetUnused so handles held by other descriptors remain
// stable.
func (c *Cache) Release(handles []int) {
	for _, h := range handles {
		if h >= 0 && h < len(c.records) {
			c.records[h].refs--
		}
	}
}

// ForgetUnused sweeps records nothing references anymore. All handles
// are invalidated; the caller re-registers every descriptor afterwards.
func (c *Cache) ForgetUnused() {
	kept := c.records[:0]
	c.index = make(map[string]int)
	for _, rec := range c.records {
		if rec.refs > 0 {
			rec.refs = 0
			c.index[rec.moniker+"."+rec.field] = len(kept)
			kept = append(kept, rec)
		}
	}
	c.records = kept
}

// RecordCount reports the number of distinct upstream fields tracked.
func (c *Cache) RecordCount() int { return len(c.records) }

// Tick refreshes every record from the provider and recomputes the
// per-record change flag. Called once per scheduler pass; the flags are
// valid until the next Tick.
func (c *Cache) Tick(p FieldProvider) {
	for _, rec := range c.records {
		v, _, err := p.Read(rec.moniker, rec.field)
		if err != nil {
			if !rec.err {
				// Log transitions only, a flapping driver would flood
				// the log otherwise.
				cclog.Debugf("pollcache: %s.%s went unreadable: %s", rec.moniker, rec.field, err.Error())
			}
			rec.changed = !rec.err
			rec.err = true
			continue
		}
		rec.changed = rec.err || !rec.seen || !v.Equal(&rec.val)
		rec.val = v
		rec.err = false
		rec.seen = true
	}
}

// Snapshot returns the record's state as observed by the most recent
// completed Tick.
func (c *Cache) Snapshot(h int) (logic.Snapshot, error) {
	if h < 0 || h >= len(c.records) {
		return logic.Snapshot{}, fmt.Errorf("invalid poll handle %d", h)
	}
	rec := c.records[h]
	return logic.Snapshot{Value: rec.val, Err: rec.err, Changed: rec.changed}, nil
}

// Snapshots gathers the snapshots for a descriptor's handle list.
func (c *Cache) Snapshots(handles []int) ([]logic.Snapshot, error) {
	out := make([]logic.Snapshot, len(handles))
	for i, h := range handles {
		s, err := c.Snapshot(h)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// AnyChanged reports whether any of the handles saw a change during the
// last Tick, which is what gates evaluation for most variants.
func (c *Cache) AnyChanged(handles []int) bool {
	for _, h := range handles {
		if h >= 0 && h < len(c.records) && c.records[h].changed {
			return true
		}
	}
	return false
}
