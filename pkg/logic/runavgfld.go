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

// RunningAvgField keeps a running average of its single source over a
// configured window of 1 to 24 hours. One sample per minute goes into a
// minute buffer; on the hour the minute buffer is averaged into the next
// hour slot and the output becomes the average of the populated hour
// slots.
//
// Samples are collected as floats regardless of the declared type and
// converted back when the output is stored. Missed minutes (startup in
// mid-hour, provider outages) simply shrink that hour's sample count.
type RunningAvgField struct {
	baseVariant
	Hours int

	// Runtime sampling state, not persisted.
	minSamples [60]float64
	minCount   int
	lastMinute int

	hourSamples [MaxAvgHours]float64
	hourCount   int
	hourNext    int
	lastHour    int

	primed bool
}

func (a *RunningAvgField) Kind() VariantKind { return KindRunningAvg }

func (a *RunningAvgField) buildValue(snaps []Snapshot, out *schema.Value, now time.Time) EvalRes {
	if len(snaps) != 1 {
		return EvalError
	}

	hour, minute := now.Hour(), now.Minute()
	if !a.primed {
		a.lastMinute, a.lastHour = minute, hour
		a.primed = true
	}

	res := EvalNoChange
	if hour != a.lastHour {
		a.lastHour = hour
		if a.minCount > 0 {
			sum := 0.0
			for i := 0; i < a.minCount; i++ {
				sum += a.minSamples[i]
			}
			a.hourSamples[a.hourNext] = sum / float64(a.minCount)
			a.hourNext = (a.hourNext + 1) % a.Hours
			if a.hourCount < a.Hours {
				a.hourCount++
			}
			a.minCount = 0

			sum = 0
			for i := 0; i < a.hourCount; i++ {
				sum += a.hourSamples[i]
			}
			res = storeNumeric(out, sum/float64(a.hourCount))
		}
	}

	if minute != a.lastMinute {
		a.lastMinute = minute
		if !snaps[0].Err {
			if f, err := snaps[0].Value.AsFloat(); err == nil && a.minCount < len(a.minSamples) {
				a.minSamples[a.minCount] = f
				a.minCount++
			}
		}
	}

	return res
}

func (a *RunningAvgField) alwaysEvaluate() bool { return true }
func (a *RunningAvgField) maxSources() int      { return 1 }

func (a *RunningAvgField) validate(f *Field) error {
	if a.Hours < 1 || a.Hours > MaxAvgHours {
		return fmt.Errorf("field %q: averaging hours must be 1..%d", f.Name(), MaxAvgHours)
	}
	if len(f.Sources()) != 1 {
		return fmt.Errorf("field %q: running average needs exactly one source", f.Name())
	}
	if !f.Type().IsNumeric() {
		return fmt.Errorf("field %q: running average needs a numeric field type", f.Name())
	}
	return nil
}

func (a *RunningAvgField) equal(o Variant) bool {
	oa, ok := o.(*RunningAvgField)
	return ok && a.Hours == oa.Hours
}

func (a *RunningAvgField) writeBody(w *schema.StreamWriter) {
	w.WriteU8(uint8(a.Hours))
}

func (a *RunningAvgField) readBody(r *schema.StreamReader, _ uint16) error {
	h, err := r.ReadU8()
	if err != nil {
		return err
	}
	a.Hours = int(h)
	return nil
}
