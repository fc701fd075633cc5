// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package varprovider is the built-in variable driver: an in-memory
// field provider whose fields are seeded from the program config,
// written through field commands, and updated by external drivers over
// the message bus in Influx line protocol.
//
// It doubles as the test double for the real driver runtime, which
// stays behind the pollcache.FieldProvider interface.
package varprovider

import (
	"errors"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

var ErrUnknownField = errors.New("unknown driver field")

type entry struct {
	val   schema.Value
	stamp time.Time
}

// Provider holds the variable table. All methods are safe for
// concurrent use; reads during a tick only contend with bus ingest.
type Provider struct {
	mu   sync.RWMutex
	vars map[string]*entry
}

func New() *Provider {
	return &Provider{vars: make(map[string]*entry)}
}

// Seed creates a variable from its config declaration.
func (p *Provider) Seed(moniker, field, typeName, value string) error {
	t, err := schema.ParseFieldType(typeName)
	if err != nil {
		return err
	}
	v := schema.NewValue(t)
	if value != "" {
		if err := v.SetFromText(value); err != nil {
			return fmt.Errorf("variable %s.%s: %w", moniker, field, err)
		}
	}
	p.Set(moniker, field, v)
	return nil
}

// Set installs or replaces a variable.
func (p *Provider) Set(moniker, field string, v schema.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vars[moniker+"."+field] = &entry{val: v, stamp: time.Now()}
}

// Read implements pollcache.FieldProvider.
func (p *Provider) Read(moniker, field string) (schema.Value, time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.vars[moniker+"."+field]
	if !ok {
		return schema.Value{}, time.Time{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, moniker, field)
	}
	if e.val.IsError() {
		return schema.Value{}, time.Time{}, fmt.Errorf("field %s.%s has no value yet", moniker, field)
	}
	return e.val, e.stamp, nil
}

// SendCommand implements pollcache.FieldProvider: a write coerces the
// text to the variable's declared type.
func (p *Provider) SendCommand(moniker, field, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.vars[moniker+"."+field]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, moniker, field)
	}
	if err := e.val.SetFromText(value); err != nil {
		return err
	}
	e.stamp = time.Now()
	return nil
}

// IngestLines decodes a line-protocol payload from the message bus and
// updates the matching variables. Unknown variables are created with
// the type the line carries, so drivers can announce fields by just
// publishing them. Malformed lines are skipped, not fatal.
func (p *Provider) IngestLines(msg []byte) {
	dec := lineprotocol.NewDecoderWithBytes(msg)
	for dec.Next() {
		if err := p.ingestLine(dec); err != nil {
			cclog.Debugf("varprovider: dropping line: %s", err.Error())
		}
	}
}

func (p *Provider) ingestLine(dec *lineprotocol.Decoder) error {
	if _, err := dec.Measurement(); err != nil {
		return err
	}

	var moniker, field string
	for {
		key, value, err := dec.NextTag()
		if err != nil {
			return err
		}
		if key == nil {
			break
		}
		switch string(key) {
		case "moniker":
			moniker = string(value)
		case "field":
			field = string(value)
		}
	}
	if moniker == "" || field == "" || !schema.ValidFieldName(field) {
		return errors.New("line lacks moniker/field tags")
	}

	for {
		key, value, err := dec.NextField()
		if err != nil {
			return err
		}
		if key == nil {
			break
		}
		if string(key) != "value" {
			continue
		}

		var v schema.Value
		switch value.Kind() {
		case lineprotocol.Float:
			v = schema.NewValue(schema.TypeFloat)
			_ = v.SetFloat(value.FloatV())
		case lineprotocol.Int:
			v = schema.NewValue(schema.TypeInt)
			_ = v.SetInt(int32(value.IntV()))
		case lineprotocol.Uint:
			v = schema.NewValue(schema.TypeCard)
			_ = v.SetCard(uint32(value.UintV()))
		case lineprotocol.Bool:
			v = schema.NewValue(schema.TypeBool)
			_ = v.SetBool(value.BoolV())
		case lineprotocol.String:
			v = schema.NewValue(schema.TypeString)
			_ = v.SetString(value.StringV())
		default:
			return fmt.Errorf("unsupported line value kind for %s.%s", moniker, field)
		}
		p.Set(moniker, field, v)
	}
	return nil
}
