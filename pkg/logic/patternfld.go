// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

var patTokenRe = regexp.MustCompile(`%\((\d+)\)`)

// PatternFmtField formats its sources into a string via a pattern with
// 1-based replacement tokens, %(1) being the first source.
type PatternFmtField struct {
	baseVariant
	Pattern string
}

func (p *PatternFmtField) Kind() VariantKind { return KindPatternFmt }

func (p *PatternFmtField) buildValue(snaps []Snapshot, out *schema.Value, _ time.Time) EvalRes {
	for i := range snaps {
		if snaps[i].Err {
			return EvalError
		}
	}
	bad := false
	res := patTokenRe.ReplaceAllStringFunc(p.Pattern, func(tok string) string {
		n, err := strconv.Atoi(tok[2 : len(tok)-1])
		if err != nil || n < 1 || n > len(snaps) {
			bad = true
			return tok
		}
		return snaps[n-1].Value.Format()
	})
	if bad {
		return EvalError
	}
	return storeString(out, res)
}

func (p *PatternFmtField) validate(f *Field) error {
	if strings.TrimSpace(p.Pattern) == "" {
		return fmt.Errorf("field %q: empty pattern", f.Name())
	}
	for _, m := range patTokenRe.FindAllStringSubmatch(p.Pattern, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(f.Sources()) {
			return fmt.Errorf("field %q: pattern token %s out of range", f.Name(), m[0])
		}
	}
	return nil
}

func (p *PatternFmtField) equal(o Variant) bool {
	op, ok := o.(*PatternFmtField)
	return ok && p.Pattern == op.Pattern
}

func (p *PatternFmtField) writeBody(w *schema.StreamWriter) {
	w.WriteString(p.Pattern)
}

func (p *PatternFmtField) readBody(r *schema.StreamReader, _ uint16) error {
	pat, err := r.ReadString()
	if err != nil {
		return err
	}
	p.Pattern = pat
	return nil
}
