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

// GraphField samples a single numeric source into a circular buffer for
// client-side graphing. Graph fields are not exposed through the driver
// facade; clients reach them through the graph query instead.
//
// Every ten seconds the source is read into a sub-sample list; every
// Minutes minutes the sub-samples are averaged into one stored sample.
// If the source was in error for the whole period, the error sentinel is
// stored so the client can render a gap. The scheduler calls the variant
// every tick because sampling is time-driven, so unlike most variants it
// must cope with sources that have never produced a value yet.
type GraphField struct {
	baseVariant
	Minutes int

	samples *GraphData

	// Runtime sampling state.
	subSamples []float32
	nextSub    time.Time
	nextSample time.Time
}

// NewGraphField builds the variant with its buffer; minutes is clamped
// by Validate, not here.
func NewGraphField(minutes int) *GraphField {
	return &GraphField{
		Minutes:    minutes,
		samples:    &GraphData{},
		subSamples: make([]float32, 0, MaxGraphMinutes*60/SubSampleSecs),
	}
}

func (g *GraphField) Kind() VariantKind    { return KindGraph }
func (g *GraphField) alwaysEvaluate() bool { return true }
func (g *GraphField) normalField() bool    { return false }
func (g *GraphField) maxSources() int      { return 1 }

// Samples exposes the buffer for the graph query surface.
func (g *GraphField) Samples() *GraphData { return g.samples }

func (g *GraphField) buildValue(snaps []Snapshot, out *schema.Value, now time.Time) EvalRes {
	if g.nextSub.IsZero() {
		// First call after load: phase the timers off "now".
		g.nextSub = now.Add(SubSampleSecs * time.Second)
		g.nextSample = now.Add(time.Duration(g.Minutes) * time.Minute)
		return EvalNoChange
	}

	if !now.Before(g.nextSub) {
		g.nextSub = now.Add(SubSampleSecs * time.Second)
		if len(snaps) == 1 && !snaps[0].Err {
			if f, err := snaps[0].Value.AsFloat(); err == nil && len(g.subSamples) < cap(g.subSamples) {
				g.subSamples = append(g.subSamples, float32(f))
			}
		}
	}

	if !now.Before(g.nextSample) {
		g.nextSample = now.Add(time.Duration(g.Minutes) * time.Minute)
		if len(g.subSamples) > 0 {
			sum := float32(0)
			for _, s := range g.subSamples {
				sum += s
			}
			g.samples.Push(sum / float32(len(g.subSamples)))
			g.subSamples = g.subSamples[:0]
		} else {
			g.samples.Push(SampleErr)
		}
	}

	// Graph fields have no scalar output.
	return EvalNoChange
}

func (g *GraphField) validate(f *Field) error {
	if g.Minutes < 1 || g.Minutes > MaxGraphMinutes {
		return fmt.Errorf("field %q: sample period must be 1..%d minutes", f.Name(), MaxGraphMinutes)
	}
	if len(f.Sources()) != 1 {
		return fmt.Errorf("field %q: graphs take exactly one source", f.Name())
	}
	return nil
}

func (g *GraphField) equal(o Variant) bool {
	og, ok := o.(*GraphField)
	return ok && g.Minutes == og.Minutes
}

func (g *GraphField) writeBody(w *schema.StreamWriter) {
	w.WriteU8(uint8(g.Minutes))
}

func (g *GraphField) readBody(r *schema.StreamReader, _ uint16) error {
	m, err := r.ReadU8()
	if err != nil {
		return err
	}
	g.Minutes = int(m)
	if g.samples == nil {
		g.samples = &GraphData{}
	}
	if g.subSamples == nil {
		g.subSamples = make([]float32, 0, MaxGraphMinutes*60/SubSampleSecs)
	}
	return nil
}
