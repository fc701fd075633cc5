// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// CompOp enumerates the comparisons a source predicate can apply.
type CompOp uint8

const (
	CompIsEqual CompOp = iota
	CompNotEqual
	CompLessThan
	CompGreaterThan
	CompLessThanEq
	CompGreaterThanEq
	CompRegexMatch
	CompInRange
)

func (op CompOp) String() string {
	switch op {
	case CompIsEqual:
		return "IsEqual"
	case CompNotEqual:
		return "NotEqual"
	case CompLessThan:
		return "LessThan"
	case CompGreaterThan:
		return "GreaterThan"
	case CompLessThanEq:
		return "LessThanEq"
	case CompGreaterThanEq:
		return "GreaterThanEq"
	case CompRegexMatch:
		return "RegexMatch"
	case CompInRange:
		return "InRange"
	}
	return fmt.Sprintf("CompOp(%d)", uint8(op))
}

// ErrExprEval marks evaluation-time predicate failures (coercion, a regex
// that does not compile, source in error). It poisons the combined result of the
// owning field for the tick.
var ErrExprEval = errors.New("expression evaluation failed")

// Predicate tests one source field value against a literal operand. The
// operand is stored as text and coerced to the source's type at test
// time; coercion failure is an evaluation error, not a config error,
// since the source type can change when a driver is replaced.
type Predicate struct {
	Op      CompOp
	Operand string
	Negate  bool

	re         *regexp.Regexp
	rangeLo    float64
	rangeHi    float64
	rangeValid bool
}

// Compile pre-builds the regex / range bounds. Called at validation time
// and again after streaming a catalogue in.
func (p *Predicate) Compile() error {
	switch p.Op {
	case CompRegexMatch:
		re, err := regexp.Compile(p.Operand)
		if err != nil {
			return fmt.Errorf("bad regex %q: %w", p.Operand, err)
		}
		p.re = re
	case CompInRange:
		lo, hi, err := parseRange(p.Operand)
		if err != nil {
			return err
		}
		p.rangeLo, p.rangeHi, p.rangeValid = lo, hi, true
	}
	return nil
}

func parseRange(s string) (lo, hi float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range operand %q is not \"lo,hi\"", s)
	}
	if lo, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("bad range low bound: %w", err)
	}
	if hi, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("bad range high bound: %w", err)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("range %q has lo > hi", s)
	}
	return lo, hi, nil
}

// Test evaluates the predicate against one source value. The Negate flag
// is applied to the raw comparison result.
func (p *Predicate) Test(v *schema.Value) (bool, error) {
	res, err := p.test(v)
	if err != nil {
		return false, err
	}
	if p.Negate {
		res = !res
	}
	return res, nil
}

func (p *Predicate) test(v *schema.Value) (bool, error) {
	switch p.Op {
	case CompRegexMatch:
		if p.re == nil {
			if err := p.Compile(); err != nil {
				return false, fmt.Errorf("%w: %s", ErrExprEval, err)
			}
		}
		return p.re.MatchString(v.Format()), nil

	case CompInRange:
		if !p.rangeValid {
			if err := p.Compile(); err != nil {
				return false, fmt.Errorf("%w: %s", ErrExprEval, err)
			}
		}
		f, err := v.AsFloat()
		if err != nil {
			return false, fmt.Errorf("%w: range test on non-numeric value", ErrExprEval)
		}
		return f >= p.rangeLo && f <= p.rangeHi, nil
	}

	switch v.Type() {
	case schema.TypeBool:
		lit, err := schema.ParseBoolText(p.Operand)
		if err != nil {
			return false, fmt.Errorf("%w: %s", ErrExprEval, err)
		}
		b, _ := v.Bool()
		switch p.Op {
		case CompIsEqual:
			return b == lit, nil
		case CompNotEqual:
			return b != lit, nil
		}
		return false, fmt.Errorf("%w: %s not defined for booleans", ErrExprEval, p.Op)

	case schema.TypeCard, schema.TypeInt, schema.TypeFloat, schema.TypeTime:
		lit, err := strconv.ParseFloat(strings.TrimSpace(p.Operand), 64)
		if err != nil {
			return false, fmt.Errorf("%w: operand %q is not numeric", ErrExprEval, p.Operand)
		}
		f, _ := v.AsFloat()
		return numericCompare(f, lit, p.Op)

	case schema.TypeString, schema.TypeStringList:
		return stringCompare(v.Format(), p.Operand, p.Op)
	}
	return false, fmt.Errorf("%w: unsupported source type", ErrExprEval)
}

func numericCompare(f, lit float64, op CompOp) (bool, error) {
	switch op {
	case CompIsEqual:
		return f == lit, nil
	case CompNotEqual:
		return f != lit, nil
	case CompLessThan:
		return f < lit, nil
	case CompGreaterThan:
		return f > lit, nil
	case CompLessThanEq:
		return f <= lit, nil
	case CompGreaterThanEq:
		return f >= lit, nil
	}
	return false, fmt.Errorf("%w: %s not defined for numbers", ErrExprEval, op)
}

func stringCompare(s, lit string, op CompOp) (bool, error) {
	switch op {
	case CompIsEqual:
		return s == lit, nil
	case CompNotEqual:
		return s != lit, nil
	case CompLessThan:
		return s < lit, nil
	case CompGreaterThan:
		return s > lit, nil
	case CompLessThanEq:
		return s <= lit, nil
	case CompGreaterThanEq:
		return s >= lit, nil
	}
	return false, fmt.Errorf("%w: %s not defined for strings", ErrExprEval, op)
}

func (p *Predicate) equal(o *Predicate) bool {
	return p.Op == o.Op && p.Operand == o.Operand && p.Negate == o.Negate
}

func (p *Predicate) writeTo(w *schema.StreamWriter) {
	w.WriteU8(uint8(p.Op))
	w.WriteString(p.Operand)
	w.WriteBool(p.Negate)
}

func (p *Predicate) readFrom(r *schema.StreamReader) error {
	op, err := r.ReadU8()
	if err != nil {
		return err
	}
	if op > uint8(CompInRange) {
		return fmt.Errorf("invalid comparison op %d in stream", op)
	}
	p.Op = CompOp(op)
	if p.Operand, err = r.ReadString(); err != nil {
		return err
	}
	if p.Negate, err = r.ReadBool(); err != nil {
		return err
	}
	p.re, p.rangeValid = nil, false
	return nil
}

// LogOp combines the per-source predicate results of a boolean-style
// field into its output state.
type LogOp uint8

const (
	LogOpAND LogOp = iota
	LogOpOR
	LogOpXOR
	LogOpNAND
	LogOpNOR
	LogOpXNOR
)

func (op LogOp) String() string {
	switch op {
	case LogOpAND:
		return "AND"
	case LogOpOR:
		return "OR"
	case LogOpXOR:
		return "XOR"
	case LogOpNAND:
		return "NAND"
	case LogOpNOR:
		return "NOR"
	case LogOpXNOR:
		return "XNOR"
	}
	return fmt.Sprintf("LogOp(%d)", uint8(op))
}

// Combine folds N per-source states. XOR is "exactly one", XNOR is "all
// equal"; the rest follow their names.
func (op LogOp) Combine(states []bool) bool {
	trueCnt := 0
	for _, s := range states {
		if s {
			trueCnt++
		}
	}
	switch op {
	case LogOpAND:
		return trueCnt == len(states)
	case LogOpOR:
		return trueCnt > 0
	case LogOpXOR:
		return trueCnt == 1
	case LogOpNAND:
		return trueCnt != len(states)
	case LogOpNOR:
		return trueCnt == 0
	case LogOpXNOR:
		return trueCnt == 0 || trueCnt == len(states)
	}
	return false
}
