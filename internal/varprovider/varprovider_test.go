// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package varprovider

import (
	"testing"
)

func TestSeedAndRead(t *testing.T) {
	p := New()
	if err := p.Seed("Vars", "Temp", "float", "21.5"); err != nil {
		t.Fatal(err)
	}
	v, _, err := p.Read("Vars", "Temp")
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := v.Float(); f != 21.5 {
		t.Errorf("got %g, want 21.5", f)
	}

	if _, _, err := p.Read("Vars", "Missing"); err == nil {
		t.Error("unknown field must error")
	}
}

func TestSeedBadType(t *testing.T) {
	if err := New().Seed("Vars", "X", "quaternion", "1"); err == nil {
		t.Error("unknown type must be rejected")
	}
}

func TestSendCommandCoercesToDeclaredType(t *testing.T) {
	p := New()
	p.Seed("Vars", "Count", "card", "0")

	if err := p.SendCommand("Vars", "Count", "17"); err != nil {
		t.Fatal(err)
	}
	v, _, _ := p.Read("Vars", "Count")
	if c, _ := v.Card(); c != 17 {
		t.Errorf("got %d, want 17", c)
	}

	if err := p.SendCommand("Vars", "Count", "not-a-number"); err == nil {
		t.Error("non-numeric write into a card variable must fail")
	}
}

func TestIngestLines(t *testing.T) {
	p := New()
	payload := []byte(`drvfld,moniker=gw,field=Temp value=20.5
drvfld,moniker=gw,field=Door value="open"
drvfld,moniker=gw,field=On value=true
garbage line that does not parse
drvfld,moniker=gw,field=Count value=42u`)
	p.IngestLines(payload)

	v, _, err := p.Read("gw", "Temp")
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := v.Float(); f != 20.5 {
		t.Errorf("Temp = %g, want 20.5", f)
	}

	v, _, _ = p.Read("gw", "Door")
	if s, _ := v.String(); s != "open" {
		t.Errorf("Door = %q, want open", s)
	}

	v, _, _ = p.Read("gw", "On")
	if b, _ := v.Bool(); !b {
		t.Error("On should be true")
	}

	v, _, _ = p.Read("gw", "Count")
	if c, _ := v.Card(); c != 42 {
		t.Errorf("Count = %d, want 42", c)
	}
}
