// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"bytes"
	"testing"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

func mustField(t *testing.T, name string, kind VariantKind, typ schema.FieldType, sources ...string) *Field {
	t.Helper()
	f, err := NewField(name, kind, typ)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sources {
		if err := f.AddSource(s); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func TestConfigAddAndDuplicate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Add(mustField(t, "a", KindBool, 0, "gw.x")); err != nil {
		t.Fatal(err)
	}
	if cfg.Serial() != 1 {
		t.Errorf("serial after one add: got %d, want 1", cfg.Serial())
	}
	err := cfg.Add(mustField(t, "a", KindPatternFmt, 0, "gw.y"))
	if err == nil {
		t.Fatal("duplicate name must be rejected")
	}
	if cfg.Serial() != 1 {
		t.Errorf("failed add must not advance the serial, got %d", cfg.Serial())
	}
}

func TestConfigSerialAdvancesOnEveryMutation(t *testing.T) {
	cfg := &Config{}
	cfg.Add(mustField(t, "a", KindBool, 0, "gw.x"))
	cfg.Add(mustField(t, "b", KindBool, 0, "gw.x"))
	pre := cfg.Serial()

	if !cfg.Move(1, true) {
		t.Fatal("move up from index 1 should succeed")
	}
	if cfg.Serial() != pre+1 {
		t.Errorf("serial after move: got %d, want %d", cfg.Serial(), pre+1)
	}
	if err := cfg.RemoveAt(0); err != nil {
		t.Fatal(err)
	}
	if cfg.Serial() != pre+2 {
		t.Errorf("serial after remove: got %d, want %d", cfg.Serial(), pre+2)
	}
	cfg.Reset()
	if cfg.Serial() != pre+3 || cfg.FieldCount() != 0 {
		t.Errorf("reset: serial %d count %d", cfg.Serial(), cfg.FieldCount())
	}
}

func TestConfigMoveBoundaries(t *testing.T) {
	cfg := &Config{}
	cfg.Add(mustField(t, "a", KindBool, 0, "gw.x"))
	cfg.Add(mustField(t, "b", KindBool, 0, "gw.x"))
	pre := cfg.Serial()

	if cfg.Move(0, true) {
		t.Error("moving the first field up must be a no-op")
	}
	if cfg.Move(1, false) {
		t.Error("moving the last field down must be a no-op")
	}
	if cfg.Serial() != pre {
		t.Errorf("no-op moves must not advance the serial")
	}
}

func TestConfigMoveUpThenDownRestoresOrder(t *testing.T) {
	cfg := &Config{}
	cfg.Add(mustField(t, "a", KindBool, 0, "gw.x"))
	cfg.Add(mustField(t, "b", KindBool, 0, "gw.x"))
	cfg.Add(mustField(t, "c", KindBool, 0, "gw.x"))
	pre := cfg.Serial()

	cfg.Move(1, true)
	cfg.Move(0, false)

	names := []string{}
	for _, f := range cfg.Fields() {
		names = append(names, f.Name())
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order disturbed: %v", names)
		}
	}
	if cfg.Serial() != pre+2 {
		t.Errorf("serial advanced by %d, want 2", cfg.Serial()-pre)
	}
}

func TestConfigFindByName(t *testing.T) {
	cfg := &Config{}
	cfg.Add(mustField(t, "Temp", KindBool, 0, "gw.x"))
	if i, ok := cfg.FindByName("Temp"); !ok || i != 0 {
		t.Errorf("FindByName(Temp) = (%d, %v)", i, ok)
	}
	if _, ok := cfg.FindByName("temp"); ok {
		t.Error("lookup must be case sensitive")
	}
}

// fullCatalogue builds one descriptor of every variant for round-trip
// coverage.
func fullCatalogue(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}

	b := mustField(t, "doors", KindBool, 0, "gw.Door1", "gw.Door2")
	bv := b.Variant().(*BoolField)
	bv.Op = LogOpAND
	bv.Exprs[0] = Predicate{Op: CompIsEqual, Operand: "open"}
	bv.Exprs[1] = Predicate{Op: CompIsEqual, Operand: "open", Negate: true}
	cfg.Add(b)

	e := mustField(t, "heater-on-time", KindElapsedTime, 0, "hvac.Heat")
	ev := e.Variant().(*ElapsedTimeField)
	ev.AutoReset = true
	ev.Exprs[0] = Predicate{Op: CompIsEqual, Operand: "true"}
	cfg.Add(e)

	m := mustField(t, "calc", KindFormula, schema.TypeFloat, "gw.a", "gw.b")
	m.Variant().(*FormulaField).Source = "(%(1) * %(2))"
	cfg.Add(m)

	mm := mustField(t, "max-temp", KindMinMaxAvg, schema.TypeInt, "t.z1", "t.z2", "t.z3")
	mm.Variant().(*MinMaxAvgField).Mode = MMAMaximum
	cfg.Add(mm)

	oc := mustField(t, "lights-on", KindOnCounter, 0, "l.a", "l.b")
	ocv := oc.Variant().(*OnCounterField)
	ocv.Invert = true
	ocv.Exprs[0] = Predicate{Op: CompIsEqual, Operand: "true"}
	ocv.Exprs[1] = Predicate{Op: CompIsEqual, Operand: "true"}
	cfg.Add(oc)

	p := mustField(t, "status-line", KindPatternFmt, 0, "gw.Door1")
	p.Variant().(*PatternFmtField).Pattern = "front door is %(1)"
	cfg.Add(p)

	ra := mustField(t, "avg-power", KindRunningAvg, schema.TypeFloat, "m.Power")
	ra.Variant().(*RunningAvgField).Hours = 4
	cfg.Add(ra)

	g := mustField(t, "temp-graph", KindGraph, 0, "t.z1")
	g.Variant().(*GraphField).Minutes = 2
	cfg.Add(g)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("catalogue should validate: %v", err)
	}
	return cfg
}

func TestConfigStreamRoundTrip(t *testing.T) {
	cfg := fullCatalogue(t)

	var buf bytes.Buffer
	if err := cfg.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	got := &Config{}
	if err := got.ReadFrom(&buf); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(cfg) {
		t.Error("round-tripped catalogue differs")
	}
}

func TestConfigRejectsUnknownVersion(t *testing.T) {
	cfg := fullCatalogue(t)
	var buf bytes.Buffer
	if err := cfg.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// The u16 format version sits right after the start marker.
	raw[1], raw[2] = 0xFF, 0xFF

	got := &Config{}
	if err := got.ReadFrom(bytes.NewReader(raw)); err == nil {
		t.Error("a newer format version must be rejected, not guessed at")
	}
}

func TestFieldSourceAuxAlignment(t *testing.T) {
	f := mustField(t, "doors", KindBool, 0, "gw.a", "gw.b", "gw.c")
	bv := f.Variant().(*BoolField)
	bv.Exprs[0].Operand = "a"
	bv.Exprs[1].Operand = "b"
	bv.Exprs[2].Operand = "c"

	if err := f.RemoveSourceAt(1); err != nil {
		t.Fatal(err)
	}
	if len(bv.Exprs) != 2 || bv.Exprs[1].Operand != "c" {
		t.Fatalf("aux list out of sync after remove: %+v", bv.Exprs)
	}

	f.MoveSource(0, false)
	if bv.Exprs[0].Operand != "c" || bv.Exprs[1].Operand != "a" {
		t.Fatalf("aux list out of sync after move: %+v", bv.Exprs)
	}
	if len(f.Sources()) != len(bv.Exprs) {
		t.Error("source and expression lists must stay the same length")
	}
}

func TestFieldSourceLimit(t *testing.T) {
	f := mustField(t, "many", KindBool, 0)
	for i := 0; i < MaxSrcFields; i++ {
		if err := f.AddSource("gw.f" + string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.AddSource("gw.overflow"); err == nil {
		t.Error("source 17 must be rejected")
	}
}
