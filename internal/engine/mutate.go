// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"fmt"

	"github.com/ClusterCockpit/cc-logicd/internal/metrics"
	"github.com/ClusterCockpit/cc-logicd/internal/pollcache"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
)

// Catalogue mutations. Each op validates first and applies atomically
// under the write lock: a rejected edit leaves no trace. After a
// successful edit the poll cache is rebuilt, the serial advances and
// the mutation hook checkpoints the new blob.

// ReplaceConfig swaps in a whole new catalogue, the path taken when a
// configuration editor commits.
func (e *Engine) ReplaceConfig(nc *logic.Config) error {
	if err := nc.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	nc.SetSerial(e.cfg.Serial() + 1)
	e.cfg = nc
	err := e.rebuildCache()
	serial := e.cfg.Serial()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.checkpoint()
	metrics.CatalogueSerial.Set(float64(serial))
	return nil
}

// AddField appends a validated descriptor.
func (e *Engine) AddField(f *logic.Field) error {
	if err := f.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if err := e.cfg.Add(f); err != nil {
		e.mu.Unlock()
		return err
	}
	err := e.rebuildCache()
	serial := e.cfg.Serial()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.checkpoint()
	metrics.CatalogueSerial.Set(float64(serial))
	return nil
}

// RemoveFieldAt deletes the descriptor at the index.
func (e *Engine) RemoveFieldAt(i int) error {
	e.mu.Lock()
	if err := e.cfg.RemoveAt(i); err != nil {
		e.mu.Unlock()
		return err
	}
	err := e.rebuildCache()
	serial := e.cfg.Serial()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.checkpoint()
	metrics.CatalogueSerial.Set(float64(serial))
	return nil
}

// MoveField reorders the catalogue; boundary moves are no-ops and do
// not checkpoint.
func (e *Engine) MoveField(i int, up bool) error {
	e.mu.Lock()
	moved := e.cfg.Move(i, up)
	serial := e.cfg.Serial()
	e.mu.Unlock()
	if !moved {
		return nil
	}

	e.checkpoint()
	metrics.CatalogueSerial.Set(float64(serial))
	return nil
}

// ResetCatalogue drops every descriptor.
func (e *Engine) ResetCatalogue() error {
	e.mu.Lock()
	e.cfg.Reset()
	err := e.rebuildCache()
	serial := e.cfg.Serial()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.checkpoint()
	metrics.CatalogueSerial.Set(float64(serial))
	return nil
}

// rebuildCache re-resolves every descriptor against a fresh poll cache.
// Caller holds the write lock. Descriptor indices shift on edits, so
// field ids are reassigned along the way.
func (e *Engine) rebuildCache() error {
	e.cache = pollcache.New()
	e.nextFldID = 0
	return e.registerAll()
}

// checkpoint serializes the catalogue and hands it to the mutation
// hook. Runs outside the engine lock; a failure to serialize is logged
// by the hook's owner, the in-memory state is already committed.
func (e *Engine) checkpoint() {
	if e.onMutation == nil {
		return
	}
	blob, serial, err := e.FetchConfig()
	if err != nil {
		return
	}
	e.onMutation(blob, serial)
}

// FetchGraph answers a graph sample query: the client presents the
// catalogue serial it holds and the last sample serial it saw, and
// receives only the samples pushed since.
func (e *Engine) FetchGraph(name string, knownCfgSerial, knownSampleSerial uint64) (uint64, []float32, logic.GraphQRes, error) {
	e.mu.RLock()
	if knownCfgSerial != e.cfg.Serial() {
		e.mu.RUnlock()
		return 0, nil, logic.GraphQError, ErrOutOfSync
	}
	i, ok := e.cfg.FindByName(name)
	if !ok {
		e.mu.RUnlock()
		return 0, nil, logic.GraphQError, fmt.Errorf("%w: %q", ErrUnknownFld, name)
	}
	f, _ := e.cfg.At(i)
	gf, ok := f.Variant().(*logic.GraphField)
	if !ok {
		e.mu.RUnlock()
		return 0, nil, logic.GraphQError, fmt.Errorf("%w: %q", ErrNotAGraph, name)
	}
	samples := gf.Samples()
	e.mu.RUnlock()

	// The buffer has its own lock; the scheduler may push to other
	// buffers while this query drains.
	serial, vals, res := samples.QuerySamples(knownSampleSerial)
	return serial, vals, res, nil
}

// GraphNames lists the catalogue's graph fields.
func (e *Engine) GraphNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var names []string
	for _, f := range e.cfg.Fields() {
		if f.Kind() == logic.KindGraph {
			names = append(names, f.Name())
		}
	}
	return names
}

// LoadBlob decodes a catalogue blob into a new Config; used by the startup
// restore path and by catalogue uploads.
func LoadBlob(blob []byte) (*logic.Config, error) {
	cfg := &logic.Config{}
	if err := cfg.ReadFrom(bytes.NewReader(blob)); err != nil {
		return nil, err
	}
	return cfg, nil
}
