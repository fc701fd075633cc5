// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"testing"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

func strVal(s string) schema.Value {
	v := schema.NewValue(schema.TypeString)
	v.SetString(s)
	return v
}

func floatVal(f float64) schema.Value {
	v := schema.NewValue(schema.TypeFloat)
	v.SetFloat(f)
	return v
}

func boolVal(b bool) schema.Value {
	v := schema.NewValue(schema.TypeBool)
	v.SetBool(b)
	return v
}

func cardVal(c uint32) schema.Value {
	v := schema.NewValue(schema.TypeCard)
	v.SetCard(c)
	return v
}

func TestPredicateTest(t *testing.T) {
	cases := []struct {
		name    string
		pred    Predicate
		value   schema.Value
		want    bool
		wantErr bool
	}{
		{"string eq", Predicate{Op: CompIsEqual, Operand: "open"}, strVal("open"), true, false},
		{"string eq miss", Predicate{Op: CompIsEqual, Operand: "open"}, strVal("closed"), false, false},
		{"string eq negated", Predicate{Op: CompIsEqual, Operand: "open", Negate: true}, strVal("open"), false, false},
		{"string lt", Predicate{Op: CompLessThan, Operand: "b"}, strVal("a"), true, false},
		{"numeric gt", Predicate{Op: CompGreaterThan, Operand: "20"}, floatVal(21.5), true, false},
		{"numeric le", Predicate{Op: CompLessThanEq, Operand: "21.5"}, floatVal(21.5), true, false},
		{"numeric bad operand", Predicate{Op: CompIsEqual, Operand: "warm"}, floatVal(1), false, true},
		{"card eq", Predicate{Op: CompIsEqual, Operand: "7"}, cardVal(7), true, false},
		{"bool eq", Predicate{Op: CompIsEqual, Operand: "true"}, boolVal(true), true, false},
		{"bool ne", Predicate{Op: CompNotEqual, Operand: "on"}, boolVal(false), true, false},
		{"bool lt undefined", Predicate{Op: CompLessThan, Operand: "true"}, boolVal(true), false, true},
		{"regex", Predicate{Op: CompRegexMatch, Operand: "^door[0-9]+$"}, strVal("door12"), true, false},
		{"regex miss", Predicate{Op: CompRegexMatch, Operand: "^door[0-9]+$"}, strVal("window1"), false, false},
		{"range inside", Predicate{Op: CompInRange, Operand: "10,20"}, floatVal(15), true, false},
		{"range edge", Predicate{Op: CompInRange, Operand: "10,20"}, floatVal(20), true, false},
		{"range outside", Predicate{Op: CompInRange, Operand: "10,20"}, floatVal(20.5), false, false},
		{"range on string", Predicate{Op: CompInRange, Operand: "1,2"}, strVal("x"), false, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.pred.Test(&c.value)
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, c.wantErr)
			}
			if !c.wantErr && got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestPredicateCompileErrors(t *testing.T) {
	bad := []Predicate{
		{Op: CompRegexMatch, Operand: "["},
		{Op: CompInRange, Operand: "10"},
		{Op: CompInRange, Operand: "20,10"},
		{Op: CompInRange, Operand: "a,b"},
	}
	for _, p := range bad {
		if err := p.Compile(); err == nil {
			t.Errorf("%s %q should fail to compile", p.Op, p.Operand)
		}
	}
}

func TestLogOpCombine(t *testing.T) {
	cases := []struct {
		op     LogOp
		states []bool
		want   bool
	}{
		{LogOpAND, []bool{true, true}, true},
		{LogOpAND, []bool{true, false}, false},
		{LogOpOR, []bool{false, true}, true},
		{LogOpOR, []bool{false, false}, false},
		{LogOpXOR, []bool{true, false, false}, true},
		{LogOpXOR, []bool{true, true, false}, false},
		{LogOpXOR, []bool{false, false}, false},
		{LogOpNAND, []bool{true, true}, false},
		{LogOpNAND, []bool{true, false}, true},
		{LogOpNOR, []bool{false, false}, true},
		{LogOpNOR, []bool{false, true}, false},
		{LogOpXNOR, []bool{true, true, true}, true},
		{LogOpXNOR, []bool{false, false}, true},
		{LogOpXNOR, []bool{true, false}, false},
	}
	for _, c := range cases {
		if got := c.op.Combine(c.states); got != c.want {
			t.Errorf("%s over %v: got %v, want %v", c.op, c.states, got, c.want)
		}
	}
}
