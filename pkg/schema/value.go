// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrTypeMismatch is returned by typed accessors and setters when the
	// value's tag does not match.
	ErrTypeMismatch = errors.New("field value type mismatch")
)

// Value is a tagged cell holding one field value of any supported type,
// plus an error flag. Reading a typed payload while the error flag is set
// is allowed and returns the last stored payload (the sentinel zero value
// if nothing was ever stored). Storing a payload clears the error flag.
//
// The zero Value is a Boolean false; use NewValue to get a cell of a
// specific type.
type Value struct {
	typ FieldType
	err bool

	b  bool
	c  uint32
	i  int32
	f  float64
	s  string
	sl []string
	t  uint64 // nanosecond stamp, doubles as a duration for elapsed fields
}

// NewValue returns a cell of the given type holding the type's zero value
// with the error flag set, so a field reads as errored until its first
// successful evaluation.
func NewValue(t FieldType) Value {
	return Value{typ: t, err: true}
}

func (v *Value) Type() FieldType { return v.typ }
func (v *Value) IsError() bool   { return v.err }

// SetError marks or clears the error state without touching the payload.
func (v *Value) SetError(e bool) { v.err = e }

func (v *Value) Bool() (bool, error) {
	if v.typ != TypeBool {
		return false, ErrTypeMismatch
	}
	return v.b, nil
}

func (v *Value) Card() (uint32, error) {
	if v.typ != TypeCard {
		return 0, ErrTypeMismatch
	}
	return v.c, nil
}

func (v *Value) Int() (int32, error) {
	if v.typ != TypeInt {
		return 0, ErrTypeMismatch
	}
	return v.i, nil
}

func (v *Value) Float() (float64, error) {
	if v.typ != TypeFloat {
		return 0, ErrTypeMismatch
	}
	return v.f, nil
}

func (v *Value) String() (string, error) {
	if v.typ != TypeString {
		return "", ErrTypeMismatch
	}
	return v.s, nil
}

func (v *Value) StringList() ([]string, error) {
	if v.typ != TypeStringList {
		return nil, ErrTypeMismatch
	}
	return v.sl, nil
}

// Time returns the nanosecond stamp of a Time value. For elapsed-time
// fields the same payload carries an accumulated duration.
func (v *Value) Time() (uint64, error) {
	if v.typ != TypeTime {
		return 0, ErrTypeMismatch
	}
	return v.t, nil
}

func (v *Value) SetBool(b bool) error {
	if v.typ != TypeBool {
		return ErrTypeMismatch
	}
	v.b, v.err = b, false
	return nil
}

func (v *Value) SetCard(c uint32) error {
	if v.typ != TypeCard {
		return ErrTypeMismatch
	}
	v.c, v.err = c, false
	return nil
}

func (v *Value) SetInt(i int32) error {
	if v.typ != TypeInt {
		return ErrTypeMismatch
	}
	v.i, v.err = i, false
	return nil
}

func (v *Value) SetFloat(f float64) error {
	if v.typ != TypeFloat {
		return ErrTypeMismatch
	}
	v.f, v.err = f, false
	return nil
}

func (v *Value) SetString(s string) error {
	if v.typ != TypeString {
		return ErrTypeMismatch
	}
	v.s, v.err = s, false
	return nil
}

func (v *Value) SetStringList(sl []string) error {
	if v.typ != TypeStringList {
		return ErrTypeMismatch
	}
	v.sl, v.err = append([]string(nil), sl...), false
	return nil
}

func (v *Value) SetTime(t uint64) error {
	if v.typ != TypeTime {
		return ErrTypeMismatch
	}
	v.t, v.err = t, false
	return nil
}

// SetFromText parses the textual form of the value's type and stores it.
// Used for write commands coming in over the protocol surface.
func (v *Value) SetFromText(txt string) error {
	switch v.typ {
	case TypeBool:
		b, err := ParseBoolText(txt)
		if err != nil {
			return err
		}
		return v.SetBool(b)
	case TypeCard:
		c, err := strconv.ParseUint(txt, 10, 32)
		if err != nil {
			return err
		}
		return v.SetCard(uint32(c))
	case TypeInt:
		i, err := strconv.ParseInt(txt, 10, 32)
		if err != nil {
			return err
		}
		return v.SetInt(int32(i))
	case TypeFloat:
		f, err := strconv.ParseFloat(txt, 64)
		if err != nil {
			return err
		}
		return v.SetFloat(f)
	case TypeString:
		return v.SetString(txt)
	case TypeStringList:
		if txt == "" {
			return v.SetStringList(nil)
		}
		parts := strings.Split(txt, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return v.SetStringList(parts)
	case TypeTime:
		t, err := strconv.ParseUint(txt, 10, 64)
		if err != nil {
			return err
		}
		return v.SetTime(t)
	}
	return ErrTypeMismatch
}

// ParseBoolText accepts the formats drivers commonly send for booleans.
func ParseBoolText(txt string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(txt)) {
	case "true", "1", "on", "yes":
		return true, nil
	case "false", "0", "off", "no":
		return false, nil
	}
	return false, errors.New("not a boolean value: " + txt)
}

// AsFloat converts any numeric (or boolean) payload to float64 for
// arithmetic folding. Non-numeric types report a mismatch.
func (v *Value) AsFloat() (float64, error) {
	switch v.typ {
	case TypeBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	case TypeCard:
		return float64(v.c), nil
	case TypeInt:
		return float64(v.i), nil
	case TypeFloat:
		return v.f, nil
	case TypeTime:
		return float64(v.t), nil
	}
	return 0, ErrTypeMismatch
}

// Equal is value equality: same type and payload. The error flag is
// deliberately ignored so that a recovered field with the same payload
// does not look like a change.
func (v *Value) Equal(other *Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == other.b
	case TypeCard:
		return v.c == other.c
	case TypeInt:
		return v.i == other.i
	case TypeFloat:
		return v.f == other.f
	case TypeString:
		return v.s == other.s
	case TypeStringList:
		if len(v.sl) != len(other.sl) {
			return false
		}
		for i := range v.sl {
			if v.sl[i] != other.sl[i] {
				return false
			}
		}
		return true
	case TypeTime:
		return v.t == other.t
	}
	return false
}

// Format renders the value for pattern substitution and logging.
func (v *Value) Format() string {
	switch v.typ {
	case TypeBool:
		if v.b {
			return "True"
		}
		return "False"
	case TypeCard:
		return strconv.FormatUint(uint64(v.c), 10)
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return v.s
	case TypeStringList:
		return strings.Join(v.sl, ", ")
	case TypeTime:
		return strconv.FormatUint(v.t, 10)
	}
	return ""
}

// WriteTo streams the value as a one-byte tag, the error flag and the
// payload.
func (v *Value) WriteTo(w *StreamWriter) {
	w.WriteU8(uint8(v.typ))
	w.WriteBool(v.err)
	switch v.typ {
	case TypeBool:
		w.WriteBool(v.b)
	case TypeCard:
		w.WriteU32(v.c)
	case TypeInt:
		w.WriteI32(v.i)
	case TypeFloat:
		w.WriteF64(v.f)
	case TypeString:
		w.WriteString(v.s)
	case TypeStringList:
		w.WriteU32(uint32(len(v.sl)))
		for _, s := range v.sl {
			w.WriteString(s)
		}
	case TypeTime:
		w.WriteU64(v.t)
	}
}

// ReadFrom is the inverse of WriteTo; the value adopts the streamed type.
func (v *Value) ReadFrom(r *StreamReader) error {
	tag, err := r.ReadU8()
	if err != nil {
		return err
	}
	if tag > uint8(TypeTime) {
		return errors.New("invalid value type tag in stream")
	}
	ef, err := r.ReadBool()
	if err != nil {
		return err
	}
	nv := Value{typ: FieldType(tag), err: ef}
	switch nv.typ {
	case TypeBool:
		nv.b, err = r.ReadBool()
	case TypeCard:
		nv.c, err = r.ReadU32()
	case TypeInt:
		nv.i, err = r.ReadI32()
	case TypeFloat:
		nv.f, err = r.ReadF64()
	case TypeString:
		nv.s, err = r.ReadString()
	case TypeStringList:
		var n uint32
		if n, err = r.ReadU32(); err == nil {
			nv.sl = make([]string, n)
			for i := uint32(0); i < n && err == nil; i++ {
				nv.sl[i], err = r.ReadString()
			}
		}
	case TypeTime:
		nv.t, err = r.ReadU64()
	}
	if err != nil {
		return err
	}
	*v = nv
	return nil
}
