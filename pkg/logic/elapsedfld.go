// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"time"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// ElapsedTimeField accumulates how long its boolean expression has been
// true. With AutoReset the accumulator restarts on every false-to-true
// transition, otherwise it keeps adding until reset explicitly.
//
// The variant is evaluated every tick: time passes whether or not any
// source changed.
type ElapsedTimeField struct {
	baseVariant
	boolLogic
	AutoReset bool

	// Runtime accumulator state, not persisted.
	elapsed   time.Duration
	last      time.Time
	prevState bool
}

func (e *ElapsedTimeField) Kind() VariantKind    { return KindElapsedTime }
func (e *ElapsedTimeField) alwaysEvaluate() bool { return true }

// Reset zeroes the accumulator; wired to the protocol reset operation
// and to boolean writes on the driver facade.
func (e *ElapsedTimeField) Reset() {
	e.elapsed = 0
}

// Elapsed exposes the accumulator for the driver facade.
func (e *ElapsedTimeField) Elapsed() time.Duration { return e.elapsed }

func (e *ElapsedTimeField) buildValue(snaps []Snapshot, out *schema.Value, now time.Time) EvalRes {
	state, err := e.state(snaps)
	if err != nil {
		// Time stops while the sources are unreadable; restart the
		// delta base when they come back.
		e.last = time.Time{}
		return EvalError
	}

	if state {
		if !e.prevState && e.AutoReset {
			e.elapsed = 0
		}
		// Only the stretch since the last tick in which the state was
		// already true counts; the transition tick contributes nothing.
		if e.prevState && !e.last.IsZero() {
			e.elapsed += now.Sub(e.last)
		}
	}
	e.last = now
	e.prevState = state

	return storeTime(out, uint64(e.elapsed))
}

func (e *ElapsedTimeField) validate(f *Field) error { return e.boolLogic.validate(f) }

func (e *ElapsedTimeField) equal(o Variant) bool {
	oe, ok := o.(*ElapsedTimeField)
	return ok && e.AutoReset == oe.AutoReset && e.boolLogic.equal(&oe.boolLogic)
}

func (e *ElapsedTimeField) writeBody(w *schema.StreamWriter) {
	e.boolLogic.writeTo(w)
	w.WriteBool(e.AutoReset)
}

func (e *ElapsedTimeField) readBody(r *schema.StreamReader, _ uint16) error {
	if err := e.boolLogic.readFrom(r); err != nil {
		return err
	}
	ar, err := r.ReadBool()
	if err != nil {
		return err
	}
	e.AutoReset = ar
	return nil
}

func (e *ElapsedTimeField) sourceAdded()                { e.boolLogic.sourceAdded() }
func (e *ElapsedTimeField) sourceRemoved(at int)        { e.boolLogic.sourceRemoved(at) }
func (e *ElapsedTimeField) sourceMoved(at int, up bool) { e.boolLogic.sourceMoved(at, up) }
