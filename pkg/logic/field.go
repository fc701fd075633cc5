// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// VariantKind tags the concrete strategy of a virtual field. The values
// are persisted, never reorder them.
type VariantKind uint8

const (
	KindBool VariantKind = iota
	KindElapsedTime
	KindFormula
	KindMinMaxAvg
	KindOnCounter
	KindPatternFmt
	KindRunningAvg
	KindGraph
)

func (k VariantKind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindElapsedTime:
		return "ElapsedTime"
	case KindFormula:
		return "Formula"
	case KindMinMaxAvg:
		return "MinMaxAvg"
	case KindOnCounter:
		return "OnCounter"
	case KindPatternFmt:
		return "PatternFmt"
	case KindRunningAvg:
		return "RunningAvg"
	case KindGraph:
		return "Graph"
	}
	return fmt.Sprintf("VariantKind(%d)", uint8(k))
}

var (
	ErrTooManySources = errors.New("source field limit reached")
	ErrBadSourceIndex = errors.New("source index out of range")
)

// Variant is the strategy a Field delegates to. The set is closed: all
// implementations live in this package, and dispatch happens through the
// envelope, never through type switches in the server.
type Variant interface {
	Kind() VariantKind

	// buildValue recomputes the output from the source snapshots. It
	// stores into out and reports whether anything changed. now is
	// injected by the caller so tests can run deterministic clocks.
	buildValue(snaps []Snapshot, out *schema.Value, now time.Time) EvalRes

	// validate checks the variant payload against the envelope after
	// edits and after streaming in.
	validate(f *Field) error

	equal(o Variant) bool
	writeBody(w *schema.StreamWriter)
	readBody(r *schema.StreamReader, ver uint16) error

	// alwaysEvaluate marks variants with time-driven state that must run
	// every tick even when no source changed.
	alwaysEvaluate() bool
	// normalField is false for variants that the driver facade must not
	// expose as regular fields.
	normalField() bool
	maxSources() int

	// Hooks keeping per-source auxiliary state aligned with the
	// envelope's source list.
	sourceAdded()
	sourceRemoved(at int)
	sourceMoved(at int, up bool)
}

// baseVariant provides the defaults shared by variants without
// per-source auxiliary state.
type baseVariant struct{}

func (baseVariant) alwaysEvaluate() bool       { return false }
func (baseVariant) normalField() bool          { return true }
func (baseVariant) maxSources() int            { return MaxSrcFields }
func (baseVariant) sourceAdded()               {}
func (baseVariant) sourceRemoved(int)          {}
func (baseVariant) sourceMoved(int, bool)      {}

// Field is one virtual-field descriptor: the static definition, the
// ordered source list, the variant payload, and the runtime value cell.
type Field struct {
	def     schema.FieldDef
	sources []string
	variant Variant

	// Runtime only, never persisted.
	fldID       uint32
	current     schema.Value
	valueSerial uint64
	handles     []int
}

// NewField builds a descriptor of the given kind. The declared value
// type is only honored for the kinds where it is configurable (Formula,
// MinMaxAvg, RunningAvg); the rest fix their own type.
func NewField(name string, kind VariantKind, t schema.FieldType) (*Field, error) {
	if !schema.ValidFieldName(name) {
		return nil, fmt.Errorf("invalid field name %q", name)
	}

	f := &Field{}
	switch kind {
	case KindBool:
		f.def = schema.FieldDef{Name: name, Type: schema.TypeBool, Access: schema.AccessRead}
		f.variant = &BoolField{}
	case KindElapsedTime:
		// Writeable so clients can reset the accumulator through the
		// driver facade.
		f.def = schema.FieldDef{Name: name, Type: schema.TypeTime, Access: schema.AccessReadWrite, SemType: schema.SemElapsedTime}
		f.variant = &ElapsedTimeField{}
	case KindFormula:
		if !t.IsNumeric() && t != schema.TypeBool {
			return nil, fmt.Errorf("formula field %q needs a numeric type, got %s", name, t)
		}
		f.def = schema.FieldDef{Name: name, Type: t, Access: schema.AccessRead}
		f.variant = &FormulaField{}
	case KindMinMaxAvg:
		if !t.IsNumeric() {
			return nil, fmt.Errorf("min/max/avg field %q needs a numeric type, got %s", name, t)
		}
		f.def = schema.FieldDef{Name: name, Type: t, Access: schema.AccessRead}
		f.variant = &MinMaxAvgField{}
	case KindOnCounter:
		f.def = schema.FieldDef{Name: name, Type: schema.TypeCard, Access: schema.AccessRead, SemType: schema.SemCounter}
		f.variant = &OnCounterField{}
	case KindPatternFmt:
		f.def = schema.FieldDef{Name: name, Type: schema.TypeString, Access: schema.AccessRead}
		f.variant = &PatternFmtField{}
	case KindRunningAvg:
		if !t.IsNumeric() {
			return nil, fmt.Errorf("running-avg field %q needs a numeric type, got %s", name, t)
		}
		f.def = schema.FieldDef{Name: name, Type: t, Access: schema.AccessRead}
		f.variant = &RunningAvgField{Hours: 1}
	case KindGraph:
		f.def = schema.FieldDef{Name: name, Type: schema.TypeFloat, Access: schema.AccessRead}
		f.variant = NewGraphField(1)
	default:
		return nil, fmt.Errorf("unknown variant kind %d", kind)
	}

	f.current = schema.NewValue(f.def.Type)
	return f, nil
}

func (f *Field) Name() string             { return f.def.Name }
func (f *Field) Def() schema.FieldDef     { return f.def }
func (f *Field) Type() schema.FieldType   { return f.def.Type }
func (f *Field) Kind() VariantKind        { return f.variant.Kind() }
func (f *Field) Variant() Variant         { return f.variant }
func (f *Field) Sources() []string        { return f.sources }
func (f *Field) SourceCount() int         { return len(f.sources) }
func (f *Field) AlwaysEvaluate() bool     { return f.variant.alwaysEvaluate() }
func (f *Field) NormalField() bool        { return f.variant.normalField() }

// Current returns the live value cell. Server side only.
func (f *Field) Current() *schema.Value { return &f.current }

func (f *Field) ValueSerial() uint64     { return f.valueSerial }
func (f *Field) SetValueSerial(s uint64) { f.valueSerial = s }

// FldID is the driver-facade field id, a runtime convenience mapping a
// driver field back to its descriptor.
func (f *Field) FldID() uint32      { return f.fldID }
func (f *Field) SetFldID(id uint32) { f.fldID = id }

// PollHandles are the cache handles for the sources, index-aligned with
// Sources. Set by the engine after registration.
func (f *Field) PollHandles() []int       { return f.handles }
func (f *Field) SetPollHandles(hs []int)  { f.handles = hs }

// SetLimits installs a range/enumeration constraint string.
func (f *Field) SetLimits(l string) { f.def.Limits = l }

// AddSource appends an upstream field reference and keeps the variant's
// per-source state aligned.
func (f *Field) AddSource(src string) error {
	if len(f.sources) >= f.variant.maxSources() {
		return ErrTooManySources
	}
	if _, _, err := schema.ParseSource(src); err != nil {
		return err
	}
	f.sources = append(f.sources, src)
	f.variant.sourceAdded()
	return nil
}

// RemoveSourceAt drops the source at the index.
func (f *Field) RemoveSourceAt(at int) error {
	if at < 0 || at >= len(f.sources) {
		return ErrBadSourceIndex
	}
	f.sources = append(f.sources[:at], f.sources[at+1:]...)
	f.variant.sourceRemoved(at)
	return nil
}

// MoveSource swaps the source at the index with its neighbor. A move at
// the boundary is a no-op and reports false.
func (f *Field) MoveSource(at int, up bool) bool {
	if up {
		if at <= 0 || at >= len(f.sources) {
			return false
		}
		f.sources[at-1], f.sources[at] = f.sources[at], f.sources[at-1]
	} else {
		if at < 0 || at >= len(f.sources)-1 {
			return false
		}
		f.sources[at], f.sources[at+1] = f.sources[at+1], f.sources[at]
	}
	f.variant.sourceMoved(at, up)
	return true
}

// Validate checks the whole descriptor: envelope syntax, source list
// bounds, and the variant payload (which also verifies that per-source
// auxiliary state is index-aligned).
func (f *Field) Validate() error {
	if !schema.ValidFieldName(f.def.Name) {
		return fmt.Errorf("invalid field name %q", f.def.Name)
	}
	if len(f.sources) == 0 {
		return fmt.Errorf("field %q has no source fields", f.def.Name)
	}
	if len(f.sources) > f.variant.maxSources() {
		return fmt.Errorf("field %q exceeds the source limit", f.def.Name)
	}
	for _, src := range f.sources {
		if _, _, err := schema.ParseSource(src); err != nil {
			return fmt.Errorf("field %q: %w", f.def.Name, err)
		}
	}
	return f.variant.validate(f)
}

// Evaluate runs the variant against the given snapshots and maintains
// the value cell's error state. The caller decides whether to bump the
// field's value serial based on the result.
func (f *Field) Evaluate(snaps []Snapshot, now time.Time) EvalRes {
	res := f.variant.buildValue(snaps, &f.current, now)
	if res == EvalError {
		f.current.SetError(true)
	}
	return res
}

// Equal compares the persisted parts of two descriptors; runtime state
// does not participate.
func (f *Field) Equal(o *Field) bool {
	if f.def != o.def || f.Kind() != o.Kind() || len(f.sources) != len(o.sources) {
		return false
	}
	for i := range f.sources {
		if f.sources[i] != o.sources[i] {
			return false
		}
	}
	return f.variant.equal(o.variant)
}

// Per-descriptor stream format version. Bump when a variant body gains
// fields; readBody implementations default missing trailing fields.
const fieldFormatVersion uint16 = 1

func (f *Field) writeTo(w *schema.StreamWriter) {
	w.WriteMarker(schema.MarkerFrame)
	w.WriteU16(fieldFormatVersion)
	w.WriteU8(uint8(f.variant.Kind()))
	w.WriteString(f.def.Name)
	w.WriteU8(uint8(f.def.Type))
	w.WriteU8(uint8(f.def.Access))
	w.WriteU8(uint8(f.def.SemType))
	w.WriteString(f.def.Limits)
	w.WriteU32(uint32(len(f.sources)))
	for _, s := range f.sources {
		w.WriteString(s)
	}
	f.variant.writeBody(w)
	w.WriteMarker(schema.MarkerEndObject)
}

func readField(r *schema.StreamReader) (*Field, error) {
	if err := r.CheckMarker(schema.MarkerFrame); err != nil {
		return nil, err
	}
	ver, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if ver == 0 || ver > fieldFormatVersion {
		return nil, fmt.Errorf("unsupported descriptor format version %d", ver)
	}
	kind, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if kind > uint8(KindGraph) {
		return nil, fmt.Errorf("unknown variant tag %d in stream", kind)
	}

	f := &Field{}
	if f.def.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	t, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	f.def.Type = schema.FieldType(t)
	a, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	f.def.Access = schema.Access(a)
	st, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	f.def.SemType = schema.SemType(st)
	if f.def.Limits, err = r.ReadString(); err != nil {
		return nil, err
	}
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if n > MaxSrcFields {
		return nil, fmt.Errorf("descriptor %q claims %d sources", f.def.Name, n)
	}
	f.sources = make([]string, n)
	for i := range f.sources {
		if f.sources[i], err = r.ReadString(); err != nil {
			return nil, err
		}
	}

	switch VariantKind(kind) {
	case KindBool:
		f.variant = &BoolField{}
	case KindElapsedTime:
		f.variant = &ElapsedTimeField{}
	case KindFormula:
		f.variant = &FormulaField{}
	case KindMinMaxAvg:
		f.variant = &MinMaxAvgField{}
	case KindOnCounter:
		f.variant = &OnCounterField{}
	case KindPatternFmt:
		f.variant = &PatternFmtField{}
	case KindRunningAvg:
		f.variant = &RunningAvgField{}
	case KindGraph:
		f.variant = NewGraphField(1)
	}
	if err := f.variant.readBody(r, ver); err != nil {
		return nil, err
	}
	if err := r.CheckMarker(schema.MarkerEndObject); err != nil {
		return nil, err
	}

	f.current = schema.NewValue(f.def.Type)
	return f, f.Validate()
}

// Store helpers used by the variants: compare-and-set into the output
// cell, reporting whether the caller must publish a new value.

func storeBool(out *schema.Value, v bool) EvalRes {
	if prev, err := out.Bool(); err == nil && prev == v && !out.IsError() {
		return EvalNoChange
	}
	if err := out.SetBool(v); err != nil {
		return EvalError
	}
	return EvalNewValue
}

func storeCard(out *schema.Value, v uint32) EvalRes {
	if prev, err := out.Card(); err == nil && prev == v && !out.IsError() {
		return EvalNoChange
	}
	if err := out.SetCard(v); err != nil {
		return EvalError
	}
	return EvalNewValue
}

func storeString(out *schema.Value, v string) EvalRes {
	if prev, err := out.String(); err == nil && prev == v && !out.IsError() {
		return EvalNoChange
	}
	if err := out.SetString(v); err != nil {
		return EvalError
	}
	return EvalNewValue
}

func storeTime(out *schema.Value, v uint64) EvalRes {
	if prev, err := out.Time(); err == nil && prev == v && !out.IsError() {
		return EvalNoChange
	}
	if err := out.SetTime(v); err != nil {
		return EvalError
	}
	return EvalNewValue
}

// storeNumeric coerces a float64 result to the declared type of the
// output cell.
func storeNumeric(out *schema.Value, v float64) EvalRes {
	switch out.Type() {
	case schema.TypeCard:
		if v < 0 || v > float64(^uint32(0)) {
			return EvalError
		}
		return storeCard(out, uint32(v))
	case schema.TypeInt:
		if v < float64(-1<<31) || v > float64(1<<31-1) {
			return EvalError
		}
		i := int32(v)
		if prev, err := out.Int(); err == nil && prev == i && !out.IsError() {
			return EvalNoChange
		}
		if err := out.SetInt(i); err != nil {
			return EvalError
		}
		return EvalNewValue
	case schema.TypeFloat:
		if prev, err := out.Float(); err == nil && prev == v && !out.IsError() {
			return EvalNoChange
		}
		if err := out.SetFloat(v); err != nil {
			return EvalError
		}
		return EvalNewValue
	case schema.TypeBool:
		return storeBool(out, v != 0)
	case schema.TypeTime:
		if v < 0 {
			return EvalError
		}
		return storeTime(out, uint64(v))
	}
	return EvalError
}
