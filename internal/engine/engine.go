// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine owns the catalogue and the poll cache and runs the
// evaluation loop. One goroutine (the scheduler) calls Tick at a fixed
// cadence; client handlers call the fetch operations concurrently under
// the engine's read lock; configuration edits take the write lock.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/internal/metrics"
	"github.com/ClusterCockpit/cc-logicd/internal/pollcache"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
)

var (
	// ErrOutOfSync tells a client that the serial it presented is
	// stale and it must re-fetch the catalogue.
	ErrOutOfSync = errors.New("catalogue serial out of sync")

	ErrUnknownFld  = errors.New("no such virtual field")
	ErrNotWritable = errors.New("field is not writeable")
	ErrNotAGraph   = errors.New("field is not a graph field")
)

// Engine wires the catalogue, the poll cache and the provider together
// and enforces the locking rules from the concurrency model.
type Engine struct {
	mu       sync.RWMutex
	cfg      *logic.Config
	cache    *pollcache.Cache
	provider pollcache.FieldProvider

	// serialSrc hands out value serials. It is global across fields so
	// a single high-water mark identifies "everything a client saw".
	serialSrc uint64
	nextFldID uint32

	ticking atomic.Bool

	// onMutation runs after every successful catalogue change with the
	// freshly serialized blob, outside the engine lock. Wired to the
	// repository checkpoint.
	onMutation func(blob []byte, serial uint64)

	// onNewValues runs after a tick that installed values, outside the
	// lock. Wired to the message bus publisher.
	onNewValues func(deltas []ValueDelta)
}

// ValueDelta is one published field change, snapshotted under the tick
// lock so the publisher can run without it.
type ValueDelta struct {
	Name   string
	Index  int
	Serial uint64
	Err    bool
	Text   string
	Num    float64
	IsNum  bool
}

// New builds an engine around a validated catalogue.
func New(provider pollcache.FieldProvider, cfg *logic.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		cache:    pollcache.New(),
		provider: provider,
	}
	if err := e.registerAll(); err != nil {
		return nil, err
	}
	metrics.CatalogueSerial.Set(float64(cfg.Serial()))
	return e, nil
}

// SetMutationHook installs the checkpoint callback.
func (e *Engine) SetMutationHook(h func(blob []byte, serial uint64)) { e.onMutation = h }

// SetPublishHook installs the value publish callback.
func (e *Engine) SetPublishHook(h func(deltas []ValueDelta)) { e.onNewValues = h }

// registerAll resolves every descriptor's sources against the cache and
// assigns driver-facade field ids. Caller holds the write lock (or has
// exclusive access during construction).
func (e *Engine) registerAll() error {
	for _, f := range e.cfg.Fields() {
		handles, err := e.cache.Register(f.Sources())
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name(), err)
		}
		f.SetPollHandles(handles)
		if f.NormalField() {
			e.nextFldID++
			f.SetFldID(e.nextFldID)
		}
	}
	return nil
}

// Tick runs one evaluation pass. If the previous pass is still running
// (a provider stall), this one is skipped entirely rather than queued.
func (e *Engine) Tick(now time.Time) {
	if !e.ticking.CompareAndSwap(false, true) {
		metrics.TicksSkipped.Inc()
		return
	}
	defer e.ticking.Store(false)

	start := time.Now()
	var deltas []ValueDelta

	e.mu.Lock()
	e.cache.Tick(e.provider)

	inError := 0
	for idx, f := range e.cfg.Fields() {
		if !f.AlwaysEvaluate() && !e.cache.AnyChanged(f.PollHandles()) {
			if f.Current().IsError() {
				inError++
			}
			continue
		}
		snaps, err := e.cache.Snapshots(f.PollHandles())
		if err != nil {
			// Broken handle bookkeeping; keep the field errored until
			// the catalogue is reloaded.
			cclog.Errorf("engine: field %q has invalid poll handles: %s", f.Name(), err.Error())
			f.Current().SetError(true)
			inError++
			continue
		}

		wasErr := f.Current().IsError()
		switch f.Evaluate(snaps, now) {
		case logic.EvalNewValue:
			e.serialSrc++
			f.SetValueSerial(e.serialSrc)
			deltas = append(deltas, e.snapshotDelta(idx, f))
		case logic.EvalError:
			metrics.EvalErrors.Inc()
			if !wasErr {
				e.serialSrc++
				f.SetValueSerial(e.serialSrc)
				deltas = append(deltas, e.snapshotDelta(idx, f))
			}
		}
		if f.Current().IsError() {
			inError++
		}
	}
	e.mu.Unlock()

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	metrics.FieldsInError.Set(float64(inError))

	if e.onNewValues != nil && len(deltas) > 0 {
		e.onNewValues(deltas)
	}
}

func (e *Engine) snapshotDelta(idx int, f *logic.Field) ValueDelta {
	d := ValueDelta{
		Name:   f.Name(),
		Index:  idx,
		Serial: f.ValueSerial(),
		Err:    f.Current().IsError(),
	}
	if !d.Err {
		d.Text = f.Current().Format()
		if num, err := f.Current().AsFloat(); err == nil {
			d.Num, d.IsNum = num, true
		}
	}
	return d
}

// FetchConfig serializes the catalogue for a connecting client.
func (e *Engine) FetchConfig() ([]byte, uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var buf bytes.Buffer
	if err := e.cfg.WriteTo(&buf); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), e.cfg.Serial(), nil
}

// Serial returns the current catalogue serial.
func (e *Engine) Serial() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Serial()
}

// FieldNames lists the exposed fields plus whether each is currently in
// error, for the health surface.
func (e *Engine) FieldNames() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool, e.cfg.FieldCount())
	for _, f := range e.cfg.Fields() {
		if f.NormalField() {
			out[f.Name()] = f.Current().IsError()
		}
	}
	return out
}

// ResetElapsed zeroes the accumulator of an elapsed-time field and, unless
// the field is in error, publishes the zeroed value right away.
func (e *Engine) ResetElapsed(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.cfg.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFld, name)
	}
	f, _ := e.cfg.At(i)
	et, ok := f.Variant().(*logic.ElapsedTimeField)
	if !ok {
		return fmt.Errorf("%w: %q is not an elapsed-time field", ErrNotWritable, name)
	}
	et.Reset()
	if !f.Current().IsError() && f.Current().SetTime(0) == nil {
		e.serialSrc++
		f.SetValueSerial(e.serialSrc)
	}
	return nil
}

// WriteField handles a client write on a virtual field. Elapsed-time
// fields accept a boolean whose true value resets the accumulator;
// everything else is rejected, derived values cannot be stored into.
func (e *Engine) WriteField(name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.cfg.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFld, name)
	}
	f, _ := e.cfg.At(i)
	if !f.Def().Access.CanWrite() {
		return fmt.Errorf("%w: %q", ErrNotWritable, name)
	}
	if et, ok := f.Variant().(*logic.ElapsedTimeField); ok {
		reset, err := parseResetValue(value)
		if err != nil {
			return err
		}
		if reset {
			et.Reset()
			if !f.Current().IsError() && f.Current().SetTime(0) == nil {
				e.serialSrc++
				f.SetValueSerial(e.serialSrc)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNotWritable, name)
}

func parseResetValue(v string) (bool, error) {
	switch v {
	case "true", "True", "1", "reset", "Reset":
		return true, nil
	case "false", "False", "0":
		return false, nil
	}
	return false, fmt.Errorf("bad reset value %q", v)
}

// SendDriverCommand forwards a write to an upstream driver field, the
// pass-through side of the driver facade.
func (e *Engine) SendDriverCommand(src, value string) error {
	return e.provider.SendCommand(splitSource(src, value))
}

func splitSource(src, value string) (string, string, string) {
	for i := 0; i < len(src); i++ {
		if src[i] == '.' {
			return src[:i], src[i+1:], value
		}
	}
	return src, "", value
}
