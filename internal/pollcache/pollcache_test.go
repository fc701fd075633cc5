// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pollcache

import (
	"errors"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// stubProvider serves canned values and records read counts per field.
type stubProvider struct {
	vals  map[string]float64
	fail  map[string]bool
	reads map[string]int
}

func newStub() *stubProvider {
	return &stubProvider{
		vals:  make(map[string]float64),
		fail:  make(map[string]bool),
		reads: make(map[string]int),
	}
}

func (s *stubProvider) Read(moniker, field string) (schema.Value, time.Time, error) {
	key := moniker + "." + field
	s.reads[key]++
	if s.fail[key] {
		return schema.Value{}, time.Time{}, errors.New("driver offline")
	}
	v := schema.NewValue(schema.TypeFloat)
	v.SetFloat(s.vals[key])
	return v, time.Now(), nil
}

func (s *stubProvider) SendCommand(moniker, field, value string) error { return nil }

func TestRegisterDeduplicates(t *testing.T) {
	c := New()
	h1, err := c.Register([]string{"gw.a", "gw.b"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.Register([]string{"gw.b", "gw.c"})
	if err != nil {
		t.Fatal(err)
	}
	if c.RecordCount() != 3 {
		t.Errorf("record count = %d, want 3 (gw.b shared)", c.RecordCount())
	}
	if h1[1] != h2[0] {
		t.Errorf("gw.b should resolve to the same handle: %d != %d", h1[1], h2[0])
	}

	p := newStub()
	c.Tick(p)
	if p.reads["gw.b"] != 1 {
		t.Errorf("gw.b read %d times in one tick, want 1", p.reads["gw.b"])
	}
}

func TestRegisterRejectsBadSource(t *testing.T) {
	c := New()
	if _, err := c.Register([]string{"noDotHere"}); err == nil {
		t.Error("malformed source must be rejected")
	}
}

func TestTickChangeDetection(t *testing.T) {
	c := New()
	h, _ := c.Register([]string{"gw.a"})
	p := newStub()
	p.vals["gw.a"] = 1

	c.Tick(p)
	s, err := c.Snapshot(h[0])
	if err != nil {
		t.Fatal(err)
	}
	if !s.Changed || s.Err {
		t.Errorf("first read: changed=%v err=%v, want changed, no err", s.Changed, s.Err)
	}

	c.Tick(p)
	s, _ = c.Snapshot(h[0])
	if s.Changed {
		t.Error("same value: change flag must clear")
	}

	p.vals["gw.a"] = 2
	c.Tick(p)
	s, _ = c.Snapshot(h[0])
	if !s.Changed {
		t.Error("new value: change flag must set")
	}
	if f, _ := s.Value.AsFloat(); f != 2 {
		t.Errorf("snapshot value = %g, want 2", f)
	}
}

func TestTickErrorFlip(t *testing.T) {
	c := New()
	h, _ := c.Register([]string{"gw.a"})
	p := newStub()

	c.Tick(p)
	p.fail["gw.a"] = true
	c.Tick(p)
	s, _ := c.Snapshot(h[0])
	if !s.Err || !s.Changed {
		t.Errorf("entering error state: err=%v changed=%v, want both", s.Err, s.Changed)
	}

	c.Tick(p)
	s, _ = c.Snapshot(h[0])
	if !s.Err || s.Changed {
		t.Errorf("staying in error: err=%v changed=%v, want err only", s.Err, s.Changed)
	}

	p.fail["gw.a"] = false
	c.Tick(p)
	s, _ = c.Snapshot(h[0])
	if s.Err || !s.Changed {
		t.Errorf("recovery: err=%v changed=%v, want changed only", s.Err, s.Changed)
	}
}

func TestForgetUnused(t *testing.T) {
	c := New()
	h1, _ := c.Register([]string{"gw.a", "gw.b"})
	c.Register([]string{"gw.b"})

	c.Release(h1)
	c.ForgetUnused()
	if c.RecordCount() != 1 {
		t.Errorf("record count after sweep = %d, want 1", c.RecordCount())
	}

	// gw.b survived; re-registering must find it again.
	h, err := c.Register([]string{"gw.b"})
	if err != nil {
		t.Fatal(err)
	}
	if h[0] != 0 {
		t.Errorf("gw.b handle = %d, want 0 after compaction", h[0])
	}
}

func TestAnyChanged(t *testing.T) {
	c := New()
	h, _ := c.Register([]string{"gw.a", "gw.b"})
	p := newStub()
	c.Tick(p)
	c.Tick(p)
	if c.AnyChanged(h) {
		t.Error("nothing changed on the second tick")
	}
	p.vals["gw.b"] = 5
	c.Tick(p)
	if !c.AnyChanged(h) {
		t.Error("gw.b changed")
	}
}
