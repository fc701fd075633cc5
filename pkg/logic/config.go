// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"errors"
	"fmt"
	"io"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

var (
	ErrDuplicateName = errors.New("a field with that name already exists")
	ErrTooManyFields = errors.New("field limit reached")
	ErrBadFieldIndex = errors.New("field index out of range")
)

// Config is the catalogue: the ordered list of virtual-field descriptors
// plus a serial that advances on every mutation, which is what clients
// use to detect that their copy went stale.
//
// Config itself is not goroutine safe; the engine serializes access
// through its catalogue lock.
type Config struct {
	fields []*Field
	serial uint64
}

func (c *Config) FieldCount() int { return len(c.fields) }
func (c *Config) Serial() uint64  { return c.serial }

// SetSerial installs an explicit serial, used when a replacement
// catalogue adopts the successor of the one it displaces.
func (c *Config) SetSerial(s uint64) { c.serial = s }

// Fields returns the descriptor list for iteration; callers must not
// mutate it directly.
func (c *Config) Fields() []*Field { return c.fields }

// At returns the descriptor at the index.
func (c *Config) At(i int) (*Field, error) {
	if i < 0 || i >= len(c.fields) {
		return nil, ErrBadFieldIndex
	}
	return c.fields[i], nil
}

// FindByName locates a descriptor by its (case-sensitive) name.
func (c *Config) FindByName(name string) (int, bool) {
	for i, f := range c.fields {
		if f.Name() == name {
			return i, true
		}
	}
	return 0, false
}

// FindByID locates a descriptor by its driver-facade field id.
func (c *Config) FindByID(id uint32) (int, bool) {
	for i, f := range c.fields {
		if f.FldID() == id {
			return i, true
		}
	}
	return 0, false
}

// Add appends a descriptor after checking limits and name uniqueness.
func (c *Config) Add(f *Field) error {
	if len(c.fields) >= MaxFields {
		return ErrTooManyFields
	}
	if _, dup := c.FindByName(f.Name()); dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name())
	}
	c.fields = append(c.fields, f)
	c.serial++
	return nil
}

// RemoveAt deletes the descriptor at the index.
func (c *Config) RemoveAt(i int) error {
	if i < 0 || i >= len(c.fields) {
		return ErrBadFieldIndex
	}
	c.fields = append(c.fields[:i], c.fields[i+1:]...)
	c.serial++
	return nil
}

// Move swaps the descriptor at the index with its neighbor. Moves at
// the list boundary are no-ops and do not advance the serial.
func (c *Config) Move(i int, up bool) bool {
	if up {
		if i <= 0 || i >= len(c.fields) {
			return false
		}
		c.fields[i-1], c.fields[i] = c.fields[i], c.fields[i-1]
	} else {
		if i < 0 || i >= len(c.fields)-1 {
			return false
		}
		c.fields[i], c.fields[i+1] = c.fields[i+1], c.fields[i]
	}
	c.serial++
	return true
}

// Reset drops all descriptors.
func (c *Config) Reset() {
	c.fields = nil
	c.serial++
}

// Validate checks every descriptor plus the cross-descriptor name
// uniqueness invariant. Used before a full catalogue replace is
// accepted, so a bad edit is rejected atomically.
func (c *Config) Validate() error {
	if len(c.fields) > MaxFields {
		return ErrTooManyFields
	}
	seen := make(map[string]struct{}, len(c.fields))
	for _, f := range c.fields {
		if _, dup := seen[f.Name()]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name())
		}
		seen[f.Name()] = struct{}{}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares two catalogues by per-descriptor equality. Serials are
// runtime bookkeeping and do not participate.
func (c *Config) Equal(o *Config) bool {
	if len(c.fields) != len(o.fields) {
		return false
	}
	for i := range c.fields {
		if !c.fields[i].Equal(o.fields[i]) {
			return false
		}
	}
	return true
}

// Catalogue stream format version. Readers accept any version up to
// this one and reject newer ones outright rather than guessing at
// unknown descriptor bodies.
const configFormatVersion uint16 = 1

// WriteTo streams the catalogue in the versioned binary format.
func (c *Config) WriteTo(w io.Writer) error {
	sw := schema.NewStreamWriter(w)
	sw.WriteMarker(schema.MarkerStartObject)
	sw.WriteU16(configFormatVersion)
	sw.WriteU32(uint32(len(c.fields)))
	for _, f := range c.fields {
		f.writeTo(sw)
	}
	sw.WriteMarker(schema.MarkerEndObject)
	return sw.Err()
}

// ReadFrom replaces the catalogue with the streamed one and advances the
// serial. Descriptors are validated as they are read.
func (c *Config) ReadFrom(r io.Reader) error {
	sr := schema.NewStreamReader(r)
	if err := sr.CheckMarker(schema.MarkerStartObject); err != nil {
		return err
	}
	ver, err := sr.ReadU16()
	if err != nil {
		return err
	}
	if ver == 0 || ver > configFormatVersion {
		return fmt.Errorf("unsupported catalogue format version %d", ver)
	}
	n, err := sr.ReadU32()
	if err != nil {
		return err
	}
	if n > MaxFields {
		return fmt.Errorf("catalogue claims %d fields, limit is %d", n, MaxFields)
	}
	fields := make([]*Field, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := readField(sr)
		if err != nil {
			return fmt.Errorf("descriptor %d: %w", i, err)
		}
		fields = append(fields, f)
	}
	if err := sr.CheckMarker(schema.MarkerEndObject); err != nil {
		return err
	}

	c.fields = fields
	c.serial++
	return c.Validate()
}
