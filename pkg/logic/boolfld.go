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

// boolLogic is the predicate list plus combining operator shared by the
// Bool and ElapsedTime variants. The expression list is kept index-
// aligned with the envelope's source list through the source hooks.
type boolLogic struct {
	Op    LogOp
	Exprs []Predicate
}

// state runs the N predicates against the N snapshots and combines
// them. A source in error or a failing predicate poisons the result.
func (b *boolLogic) state(snaps []Snapshot) (bool, error) {
	if len(snaps) != len(b.Exprs) {
		return false, fmt.Errorf("%w: %d snapshots for %d expressions", ErrExprEval, len(snaps), len(b.Exprs))
	}
	states := make([]bool, len(snaps))
	for i := range snaps {
		if snaps[i].Err {
			return false, fmt.Errorf("%w: source %d in error", ErrExprEval, i)
		}
		s, err := b.Exprs[i].Test(&snaps[i].Value)
		if err != nil {
			return false, err
		}
		states[i] = s
	}
	return b.Op.Combine(states), nil
}

func (b *boolLogic) validate(f *Field) error {
	if len(b.Exprs) != len(f.Sources()) {
		return fmt.Errorf("field %q: %d expressions for %d sources", f.Name(), len(b.Exprs), len(f.Sources()))
	}
	if b.Op > LogOpXNOR {
		return fmt.Errorf("field %q: invalid combining operator", f.Name())
	}
	for i := range b.Exprs {
		if err := b.Exprs[i].Compile(); err != nil {
			return fmt.Errorf("field %q, expression %d: %w", f.Name(), i, err)
		}
	}
	return nil
}

func (b *boolLogic) equal(o *boolLogic) bool {
	if b.Op != o.Op || len(b.Exprs) != len(o.Exprs) {
		return false
	}
	for i := range b.Exprs {
		if !b.Exprs[i].equal(&o.Exprs[i]) {
			return false
		}
	}
	return true
}

func (b *boolLogic) writeTo(w *schema.StreamWriter) {
	w.WriteU8(uint8(b.Op))
	w.WriteU32(uint32(len(b.Exprs)))
	for i := range b.Exprs {
		b.Exprs[i].writeTo(w)
	}
}

func (b *boolLogic) readFrom(r *schema.StreamReader) error {
	op, err := r.ReadU8()
	if err != nil {
		return err
	}
	if op > uint8(LogOpXNOR) {
		return fmt.Errorf("invalid combining operator %d in stream", op)
	}
	b.Op = LogOp(op)
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	if n > MaxSrcFields {
		return fmt.Errorf("expression list of %d exceeds the source limit", n)
	}
	b.Exprs = make([]Predicate, n)
	for i := range b.Exprs {
		if err := b.Exprs[i].readFrom(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *boolLogic) sourceAdded() {
	b.Exprs = append(b.Exprs, Predicate{Op: CompIsEqual})
}

func (b *boolLogic) sourceRemoved(at int) {
	if at >= 0 && at < len(b.Exprs) {
		b.Exprs = append(b.Exprs[:at], b.Exprs[at+1:]...)
	}
}

func (b *boolLogic) sourceMoved(at int, up bool) {
	if up && at > 0 && at < len(b.Exprs) {
		b.Exprs[at-1], b.Exprs[at] = b.Exprs[at], b.Exprs[at-1]
	} else if !up && at >= 0 && at < len(b.Exprs)-1 {
		b.Exprs[at], b.Exprs[at+1] = b.Exprs[at+1], b.Exprs[at]
	}
}

// BoolField derives a boolean from per-source predicates combined with
// a logical operator.
type BoolField struct {
	baseVariant
	boolLogic
}

func (b *BoolField) Kind() VariantKind { return KindBool }

func (b *BoolField) buildValue(snaps []Snapshot, out *schema.Value, _ time.Time) EvalRes {
	state, err := b.state(snaps)
	if err != nil {
		return EvalError
	}
	return storeBool(out, state)
}

func (b *BoolField) validate(f *Field) error { return b.boolLogic.validate(f) }

func (b *BoolField) equal(o Variant) bool {
	ob, ok := o.(*BoolField)
	return ok && b.boolLogic.equal(&ob.boolLogic)
}

func (b *BoolField) writeBody(w *schema.StreamWriter) { b.boolLogic.writeTo(w) }

func (b *BoolField) readBody(r *schema.StreamReader, _ uint16) error {
	return b.boolLogic.readFrom(r)
}

func (b *BoolField) sourceAdded()              { b.boolLogic.sourceAdded() }
func (b *BoolField) sourceRemoved(at int)      { b.boolLogic.sourceRemoved(at) }
func (b *BoolField) sourceMoved(at int, up bool) { b.boolLogic.sourceMoved(at, up) }
