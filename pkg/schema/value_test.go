// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"bytes"
	"testing"
)

func TestNewValueStartsInError(t *testing.T) {
	v := NewValue(TypeFloat)
	if !v.IsError() {
		t.Error("fresh value should be in error state until first store")
	}
	if err := v.SetFloat(1.5); err != nil {
		t.Fatal(err)
	}
	if v.IsError() {
		t.Error("storing a value must clear the error flag")
	}
}

func TestTypedAccessors(t *testing.T) {
	v := NewValue(TypeCard)
	if err := v.SetInt(3); err != ErrTypeMismatch {
		t.Errorf("SetInt on a Card cell: got %v, want ErrTypeMismatch", err)
	}
	if _, err := v.Bool(); err != ErrTypeMismatch {
		t.Errorf("Bool() on a Card cell: got %v, want ErrTypeMismatch", err)
	}
	if err := v.SetCard(42); err != nil {
		t.Fatal(err)
	}
	c, err := v.Card()
	if err != nil || c != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", c, err)
	}
}

func TestEqualityIgnoresErrorFlag(t *testing.T) {
	a, b := NewValue(TypeString), NewValue(TypeString)
	a.SetString("open")
	b.SetString("open")
	b.SetError(true)
	if !a.Equal(&b) {
		t.Error("equality must ignore the error flag")
	}
	b.SetString("closed")
	if a.Equal(&b) {
		t.Error("different payloads must not compare equal")
	}
	c := NewValue(TypeCard)
	c.SetCard(1)
	if a.Equal(&c) {
		t.Error("different types must not compare equal")
	}
}

func TestValueStreamRoundTrip(t *testing.T) {
	mk := func(t FieldType, set func(v *Value)) Value {
		v := NewValue(t)
		set(&v)
		return v
	}

	values := []Value{
		mk(TypeBool, func(v *Value) { v.SetBool(true) }),
		mk(TypeCard, func(v *Value) { v.SetCard(4000000000) }),
		mk(TypeInt, func(v *Value) { v.SetInt(-12345) }),
		mk(TypeFloat, func(v *Value) { v.SetFloat(3.25) }),
		mk(TypeString, func(v *Value) { v.SetString("hello world") }),
		mk(TypeStringList, func(v *Value) { v.SetStringList([]string{"a", "b", "c"}) }),
		mk(TypeTime, func(v *Value) { v.SetTime(1700000000000000000) }),
		NewValue(TypeFloat), // error flag set, no payload
	}

	for _, v := range values {
		var buf bytes.Buffer
		w := NewStreamWriter(&buf)
		v.WriteTo(w)
		if err := w.Err(); err != nil {
			t.Fatalf("%s: write failed: %v", v.Type(), err)
		}

		var got Value
		if err := got.ReadFrom(NewStreamReader(&buf)); err != nil {
			t.Fatalf("%s: read failed: %v", v.Type(), err)
		}
		if !got.Equal(&v) {
			t.Errorf("%s: round trip changed the payload", v.Type())
		}
		if got.IsError() != v.IsError() {
			t.Errorf("%s: round trip lost the error flag", v.Type())
		}
	}
}

func TestValidFieldName(t *testing.T) {
	valid := []string{"a", "Z9", "Kitchen-Temp", "door_state", "0abc"}
	invalid := []string{"", "-abc", "_abc", "has space", "dot.ted", "ümlaut"}

	for _, n := range valid {
		if !ValidFieldName(n) {
			t.Errorf("%q should be a valid field name", n)
		}
	}
	for _, n := range invalid {
		if ValidFieldName(n) {
			t.Errorf("%q should be rejected", n)
		}
	}
}

func TestParseSource(t *testing.T) {
	m, f, err := ParseSource("gw.Door1")
	if err != nil || m != "gw" || f != "Door1" {
		t.Errorf("got (%q, %q, %v)", m, f, err)
	}
	for _, bad := range []string{"noDot", ".field", "moniker.", "m.bad name"} {
		if _, _, err := ParseSource(bad); err == nil {
			t.Errorf("%q should be rejected", bad)
		}
	}
}

func TestSetFromText(t *testing.T) {
	cases := []struct {
		typ  FieldType
		text string
		want string
	}{
		{TypeBool, "true", "True"},
		{TypeBool, "Off", "False"},
		{TypeCard, "17", "17"},
		{TypeInt, "-3", "-3"},
		{TypeFloat, "2.5", "2.5"},
		{TypeString, "as is", "as is"},
		{TypeStringList, "a, b", "a, b"},
	}
	for _, c := range cases {
		v := NewValue(c.typ)
		if err := v.SetFromText(c.text); err != nil {
			t.Errorf("%s from %q: %v", c.typ, c.text, err)
			continue
		}
		if got := v.Format(); got != c.want {
			t.Errorf("%s from %q: formatted %q, want %q", c.typ, c.text, got, c.want)
		}
	}

	v := NewValue(TypeCard)
	if err := v.SetFromText("-1"); err == nil {
		t.Error("negative text into a Card cell should fail")
	}
}
