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

// OnCounterField counts how many of its sources' expressions evaluate
// true, or false when inverted. The output is a cardinal.
type OnCounterField struct {
	baseVariant
	Exprs  []Predicate
	Invert bool
}

func (c *OnCounterField) Kind() VariantKind { return KindOnCounter }

func (c *OnCounterField) buildValue(snaps []Snapshot, out *schema.Value, _ time.Time) EvalRes {
	if len(snaps) != len(c.Exprs) {
		return EvalError
	}
	count := uint32(0)
	for i := range snaps {
		if snaps[i].Err {
			return EvalError
		}
		s, err := c.Exprs[i].Test(&snaps[i].Value)
		if err != nil {
			return EvalError
		}
		if s != c.Invert {
			count++
		}
	}
	return storeCard(out, count)
}

func (c *OnCounterField) validate(f *Field) error {
	if len(c.Exprs) != len(f.Sources()) {
		return fmt.Errorf("field %q: %d expressions for %d sources", f.Name(), len(c.Exprs), len(f.Sources()))
	}
	for i := range c.Exprs {
		if err := c.Exprs[i].Compile(); err != nil {
			return fmt.Errorf("field %q, expression %d: %w", f.Name(), i, err)
		}
	}
	return nil
}

func (c *OnCounterField) equal(o Variant) bool {
	oc, ok := o.(*OnCounterField)
	if !ok || c.Invert != oc.Invert || len(c.Exprs) != len(oc.Exprs) {
		return false
	}
	for i := range c.Exprs {
		if !c.Exprs[i].equal(&oc.Exprs[i]) {
			return false
		}
	}
	return true
}

func (c *OnCounterField) writeBody(w *schema.StreamWriter) {
	w.WriteBool(c.Invert)
	w.WriteU32(uint32(len(c.Exprs)))
	for i := range c.Exprs {
		c.Exprs[i].writeTo(w)
	}
}

func (c *OnCounterField) readBody(r *schema.StreamReader, _ uint16) error {
	inv, err := r.ReadBool()
	if err != nil {
		return err
	}
	c.Invert = inv
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	if n > MaxSrcFields {
		return fmt.Errorf("expression list of %d exceeds the source limit", n)
	}
	c.Exprs = make([]Predicate, n)
	for i := range c.Exprs {
		if err := c.Exprs[i].readFrom(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *OnCounterField) sourceAdded() {
	c.Exprs = append(c.Exprs, Predicate{Op: CompIsEqual})
}

func (c *OnCounterField) sourceRemoved(at int) {
	if at >= 0 && at < len(c.Exprs) {
		c.Exprs = append(c.Exprs[:at], c.Exprs[at+1:]...)
	}
}

func (c *OnCounterField) sourceMoved(at int, up bool) {
	if up && at > 0 && at < len(c.Exprs) {
		c.Exprs[at-1], c.Exprs[at] = c.Exprs[at], c.Exprs[at-1]
	} else if !up && at >= 0 && at < len(c.Exprs)-1 {
		c.Exprs[at], c.Exprs[at+1] = c.Exprs[at+1], c.Exprs[at]
	}
}
