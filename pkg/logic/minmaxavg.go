// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"fmt"
	"time"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// MMAMode selects how a MinMaxAvgField folds its sources.
type MMAMode uint8

const (
	MMAMinimum MMAMode = iota
	MMAMaximum
	MMAAverage
)

func (m MMAMode) String() string {
	switch m {
	case MMAMinimum:
		return "Minimum"
	case MMAMaximum:
		return "Maximum"
	case MMAAverage:
		return "Average"
	}
	return fmt.Sprintf("MMAMode(%d)", uint8(m))
}

// MinMaxAvgField folds its numeric sources into their minimum, maximum
// or average. Accumulation runs in floating point and the result is
// coerced back to the declared field type.
type MinMaxAvgField struct {
	baseVariant
	Mode MMAMode
}

func (m *MinMaxAvgField) Kind() VariantKind { return KindMinMaxAvg }

func (m *MinMaxAvgField) buildValue(snaps []Snapshot, out *schema.Value, _ time.Time) EvalRes {
	if len(snaps) == 0 {
		return EvalError
	}
	var acc float64
	for i := range snaps {
		if snaps[i].Err {
			return EvalError
		}
		f, err := snaps[i].Value.AsFloat()
		if err != nil {
			return EvalError
		}
		switch {
		case i == 0:
			acc = f
		case m.Mode == MMAMinimum && f < acc:
			acc = f
		case m.Mode == MMAMaximum && f > acc:
			acc = f
		case m.Mode == MMAAverage:
			acc += f
		}
	}
	if m.Mode == MMAAverage {
		acc /= float64(len(snaps))
	}
	return storeNumeric(out, acc)
}

func (m *MinMaxAvgField) validate(f *Field) error {
	if m.Mode > MMAAverage {
		return fmt.Errorf("field %q: invalid min/max/avg mode", f.Name())
	}
	if !f.Type().IsNumeric() {
		return fmt.Errorf("field %q: min/max/avg needs a numeric field type", f.Name())
	}
	return nil
}

func (m *MinMaxAvgField) equal(o Variant) bool {
	om, ok := o.(*MinMaxAvgField)
	return ok && m.Mode == om.Mode
}

func (m *MinMaxAvgField) writeBody(w *schema.StreamWriter) {
	w.WriteU8(uint8(m.Mode))
}

func (m *MinMaxAvgField) readBody(r *schema.StreamReader, _ uint16) error {
	mode, err := r.ReadU8()
	if err != nil {
		return err
	}
	if mode > uint8(MMAAverage) {
		return fmt.Errorf("invalid min/max/avg mode %d in stream", mode)
	}
	m.Mode = MMAMode(mode)
	return nil
}
