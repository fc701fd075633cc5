// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the typed field-value model that is shared between
// the logic server and its client drivers: field types, access rights,
// field definitions and the tagged value cell with binary streaming.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldType enumerates the value types a driver or virtual field can have.
type FieldType uint8

const (
	TypeBool FieldType = iota
	TypeCard
	TypeInt
	TypeFloat
	TypeString
	TypeStringList
	TypeTime
)

func (t FieldType) String() string {
	switch t {
	case TypeBool:
		return "Boolean"
	case TypeCard:
		return "Card"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeStringList:
		return "StringList"
	case TypeTime:
		return "Time"
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// IsNumeric reports whether values of this type can feed arithmetic.
func (t FieldType) IsNumeric() bool {
	return t == TypeCard || t == TypeInt || t == TypeFloat
}

// ParseFieldType is the inverse of FieldType.String, used by the JSON
// config surface.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "boolean", "bool":
		return TypeBool, nil
	case "card", "cardinal":
		return TypeCard, nil
	case "int", "integer":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "string":
		return TypeString, nil
	case "stringlist":
		return TypeStringList, nil
	case "time":
		return TypeTime, nil
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// Access describes the direction(s) a field can be used in.
type Access uint8

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
	AccessReadWrite
)

func (a Access) CanRead() bool  { return a == AccessRead || a == AccessReadWrite }
func (a Access) CanWrite() bool { return a == AccessWrite || a == AccessReadWrite }

func (a Access) String() string {
	switch a {
	case AccessNone:
		return "None"
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessReadWrite:
		return "ReadWrite"
	}
	return fmt.Sprintf("Access(%d)", uint8(a))
}

// SemType is an optional domain tag on a field definition. It carries no
// server-side behavior, clients use it for presentation.
type SemType uint8

const (
	SemGeneric SemType = iota
	SemAnalogIO
	SemBoolSwitch
	SemCounter
	SemElapsedTime
	SemTemp
	SemPower
)

// FieldDef is the static description of a field: the part of a descriptor
// that the driver facade needs to create the field on its side.
type FieldDef struct {
	Name    string
	Type    FieldType
	Access  Access
	SemType SemType
	// Limits is a free-form range/enumeration constraint string, empty
	// means unconstrained.
	Limits string
}

// Field names: first character alphanumeric, then alphanumeric, hyphen
// or underscore.
var fieldNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidFieldName checks the syntactic constraints on a field name.
func ValidFieldName(name string) bool {
	return fieldNameRe.MatchString(name)
}

// ParseSource splits an upstream field identifier of the form
// "moniker.field" and validates both halves. The field part is everything
// after the first dot, which keeps monikers free of dots but allows none
// in the field name either.
func ParseSource(src string) (moniker, field string, err error) {
	dot := strings.IndexByte(src, '.')
	if dot <= 0 || dot == len(src)-1 {
		return "", "", fmt.Errorf("source %q is not of the form moniker.field", src)
	}
	moniker, field = src[:dot], src[dot+1:]
	if !ValidFieldName(field) {
		return "", "", fmt.Errorf("source %q has an invalid field name", src)
	}
	return moniker, field, nil
}
