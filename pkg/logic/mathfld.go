// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// FormulaField evaluates a user-supplied arithmetic formula over its
// source fields. The formula text is the only persisted state; the tree
// is rebuilt on load and on every edit.
//
// A formula must be wrapped in parentheses at the top level, so the
// minimal form is "(x + y)". That guarantees the root is an operation
// or function node and that end-of-input can only legally appear once
// the parser is back at the root.
type FormulaField struct {
	baseVariant
	Source string

	// Compiled tree: an arena of nodes addressed by index, no parent
	// pointers, so ownership is trivial and cycles are impossible.
	nodes []fnode
	root  int32
}

// ParseError reports where and why formula compilation failed.
type ParseError struct {
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("formula parse error at %d: %s", e.Pos, e.Reason)
}

type fnodeKind uint8

const (
	// Binary operations.
	fnAdd fnodeKind = iota
	fnSub
	fnMul
	fnDiv
	fnMod
	fnPow
	fnBitAnd
	fnBitOr
	fnBitXor
	// Unary functions.
	fnAbs
	fnCosine
	fnSine
	fnSqRoot
	fnNLog
	fnToCard
	fnToFloat
	fnToInt
	fnSigned
	fnUnsigned
	fnNegate
	// Leaves.
	fnCardLit
	fnIntLit
	fnFloatLit
	fnFldRef
)

type fnode struct {
	kind  fnodeKind
	left  int32
	right int32
	c     uint32
	i     int32
	f     float64
	ref   int // zero-based source index for fnFldRef
}

func (ff *FormulaField) Kind() VariantKind { return KindFormula }

// Parse compiles the formula source into the arena. Any previous tree
// is discarded.
func (ff *FormulaField) Parse() error {
	p := &formulaParser{src: []rune(ff.Source), out: ff}
	ff.nodes = ff.nodes[:0]
	ff.root = -1

	p.skipSpace()
	ch, err := p.next(false)
	if err != nil {
		return err
	}
	if ch != '(' {
		return p.fail("formula must start with '('")
	}
	root, err := p.parseClause()
	if err != nil {
		return err
	}
	p.skipSpace()
	if _, err := p.next(true); err == nil {
		return p.fail("trailing content after closing paren")
	}
	ff.root = root
	return nil
}

// RefIndices returns the zero-based source indices the compiled tree
// references, for validation.
func (ff *FormulaField) RefIndices() []int {
	var refs []int
	for _, n := range ff.nodes {
		if n.kind == fnFldRef {
			refs = append(refs, n.ref)
		}
	}
	return refs
}

// Canonical renders the compiled tree back to text with full
// parenthesization; parsing the result yields an equal tree.
func (ff *FormulaField) Canonical() string {
	if ff.root < 0 {
		return ""
	}
	var sb strings.Builder
	ff.render(&sb, ff.root)
	return sb.String()
}

var fnNames = map[fnodeKind]string{
	fnAbs:      "Abs",
	fnCosine:   "Cosine",
	fnSine:     "Sine",
	fnSqRoot:   "SqRoot",
	fnNLog:     "NLog",
	fnToCard:   "ToCard",
	fnToFloat:  "ToFloat",
	fnToInt:    "ToInt",
	fnSigned:   "Signed",
	fnUnsigned: "Unsigned",
	fnNegate:   "Negate",
}

var opSymbols = map[fnodeKind]string{
	fnAdd:    "+",
	fnSub:    "-",
	fnMul:    "*",
	fnDiv:    "/",
	fnMod:    "%",
	fnPow:    "**",
	fnBitAnd: "&",
	fnBitOr:  "|",
	fnBitXor: "^",
}

func (ff *FormulaField) render(sb *strings.Builder, idx int32) {
	n := &ff.nodes[idx]
	switch n.kind {
	case fnCardLit:
		fmt.Fprintf(sb, "%d", n.c)
	case fnIntLit:
		fmt.Fprintf(sb, "%d", n.i)
	case fnFloatLit:
		s := strconv.FormatFloat(n.f, 'f', -1, 64)
		sb.WriteString(s)
		if !strings.ContainsAny(s, ".eE") {
			sb.WriteString(".0")
		}
	case fnFldRef:
		fmt.Fprintf(sb, "%%(%d)", n.ref+1)
	default:
		if name, ok := fnNames[n.kind]; ok {
			sb.WriteString(name)
			sb.WriteString("(")
			ff.render(sb, n.left)
			sb.WriteString(")")
			return
		}
		sb.WriteString("(")
		ff.render(sb, n.left)
		sb.WriteString(" ")
		sb.WriteString(opSymbols[n.kind])
		sb.WriteString(" ")
		ff.render(sb, n.right)
		sb.WriteString(")")
	}
}

// formulaParser is a single-pass recursive-descent parser over a rune
// stream with one-character pushback.
type formulaParser struct {
	src  []rune
	pos  int
	push rune
	out  *FormulaField
}

func (p *formulaParser) fail(reason string) error {
	return &ParseError{Pos: p.pos, Reason: reason}
}

func (p *formulaParser) next(endOK bool) (rune, error) {
	if p.push != 0 {
		ch := p.push
		p.push = 0
		return ch, nil
	}
	if p.pos >= len(p.src) {
		if endOK {
			return 0, &ParseError{Pos: p.pos, Reason: "end of input"}
		}
		return 0, &ParseError{Pos: p.pos, Reason: "unexpected end of formula"}
	}
	ch := p.src[p.pos]
	p.pos++
	return ch, nil
}

func (p *formulaParser) unget(ch rune) { p.push = ch }

func (p *formulaParser) peek() (rune, error) {
	ch, err := p.next(false)
	if err != nil {
		return 0, err
	}
	p.unget(ch)
	return ch, nil
}

func (p *formulaParser) skipSpace() {
	for {
		ch, err := p.next(true)
		if err != nil {
			return
		}
		if !unicode.IsSpace(ch) {
			p.unget(ch)
			return
		}
	}
}

func (p *formulaParser) add(n fnode) int32 {
	p.out.nodes = append(p.out.nodes, n)
	return int32(len(p.out.nodes) - 1)
}

// parseClause parses "operand OP operand )" with the opening paren
// already consumed.
func (p *formulaParser) parseClause() (int32, error) {
	left, err := p.parseOperand()
	if err != nil {
		return -1, err
	}
	op, err := p.parseOp()
	if err != nil {
		return -1, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return -1, err
	}
	p.skipSpace()
	ch, err := p.next(false)
	if err != nil {
		return -1, err
	}
	if ch != ')' {
		return -1, p.fail("expected ')'")
	}
	return p.add(fnode{kind: op, left: left, right: right}), nil
}

func (p *formulaParser) parseOp() (fnodeKind, error) {
	p.skipSpace()
	ch, err := p.next(false)
	if err != nil {
		return 0, err
	}
	switch ch {
	case '+':
		return fnAdd, nil
	case '-':
		return fnSub, nil
	case '*':
		nxt, err := p.next(true)
		if err == nil && nxt == '*' {
			return fnPow, nil
		}
		if err == nil {
			p.unget(nxt)
		}
		return fnMul, nil
	case '/':
		return fnDiv, nil
	case '%':
		return fnMod, nil
	case '&':
		return fnBitAnd, nil
	case '|':
		return fnBitOr, nil
	case '^':
		return fnBitXor, nil
	}
	return 0, p.fail(fmt.Sprintf("expected operator, got %q", ch))
}

func (p *formulaParser) parseOperand() (int32, error) {
	p.skipSpace()
	ch, err := p.next(false)
	if err != nil {
		return -1, err
	}
	switch {
	case ch == '(':
		return p.parseClause()
	case ch == '%':
		return p.parseFldRef()
	case ch == '-' || ch == '.' || unicode.IsDigit(ch):
		p.unget(ch)
		return p.parseLiteral()
	case unicode.IsLetter(ch):
		p.unget(ch)
		return p.parseFunc()
	}
	return -1, p.fail(fmt.Sprintf("unexpected character %q", ch))
}

func (p *formulaParser) parseFldRef() (int32, error) {
	ch, err := p.next(false)
	if err != nil {
		return -1, err
	}
	if ch != '(' {
		return -1, p.fail("expected '(' after '%'")
	}
	num := 0
	digits := 0
	for {
		ch, err = p.next(false)
		if err != nil {
			return -1, err
		}
		if ch == ')' {
			break
		}
		if !unicode.IsDigit(ch) {
			return -1, p.fail("field reference must be %(n)")
		}
		num = num*10 + int(ch-'0')
		digits++
		if digits > 3 {
			return -1, p.fail("field reference number too large")
		}
	}
	if digits == 0 || num == 0 {
		return -1, p.fail("field references are 1-based")
	}
	return p.add(fnode{kind: fnFldRef, ref: num - 1}), nil
}

func (p *formulaParser) parseLiteral() (int32, error) {
	neg := false
	ch, err := p.next(false)
	if err != nil {
		return -1, err
	}
	if ch == '-' {
		neg = true
		ch, err = p.next(false)
		if err != nil {
			return -1, err
		}
	}
	var digits strings.Builder
	isFloat := false
	for {
		if ch == '.' {
			if isFloat {
				return -1, p.fail("malformed number")
			}
			isFloat = true
		} else if !unicode.IsDigit(ch) {
			p.unget(ch)
			break
		}
		digits.WriteRune(ch)
		ch, err = p.next(true)
		if err != nil {
			break
		}
	}
	txt := digits.String()
	if txt == "" || txt == "." {
		return -1, p.fail("malformed number")
	}

	if isFloat {
		var f float64
		if _, err := fmt.Sscanf(txt, "%g", &f); err != nil {
			return -1, p.fail("malformed float literal")
		}
		if neg {
			f = -f
		}
		return p.add(fnode{kind: fnFloatLit, f: f}), nil
	}
	var u uint64
	if _, err := fmt.Sscanf(txt, "%d", &u); err != nil {
		return -1, p.fail("malformed integer literal")
	}
	if neg {
		if u > 1<<31 {
			return -1, p.fail("integer literal out of range")
		}
		return p.add(fnode{kind: fnIntLit, i: int32(-int64(u))}), nil
	}
	if u > math.MaxUint32 {
		return -1, p.fail("cardinal literal out of range")
	}
	return p.add(fnode{kind: fnCardLit, c: uint32(u)}), nil
}

var funcByName = map[string]fnodeKind{
	"abs":      fnAbs,
	"cosine":   fnCosine,
	"sine":     fnSine,
	"sqroot":   fnSqRoot,
	"nlog":     fnNLog,
	"tocard":   fnToCard,
	"tofloat":  fnToFloat,
	"toint":    fnToInt,
	"signed":   fnSigned,
	"unsigned": fnUnsigned,
	"negate":   fnNegate,
}

func (p *formulaParser) parseFunc() (int32, error) {
	var ident strings.Builder
	for {
		ch, err := p.next(false)
		if err != nil {
			return -1, err
		}
		if ch == '(' {
			break
		}
		if !unicode.IsLetter(ch) {
			return -1, p.fail("malformed function name")
		}
		ident.WriteRune(ch)
		if ident.Len() > 16 {
			return -1, p.fail("function name too long")
		}
	}
	name := strings.ToLower(ident.String())

	if name == "power" {
		left, err := p.parseOperand()
		if err != nil {
			return -1, err
		}
		p.skipSpace()
		ch, err := p.next(false)
		if err != nil {
			return -1, err
		}
		if ch != ',' {
			return -1, p.fail("Power takes two arguments")
		}
		right, err := p.parseOperand()
		if err != nil {
			return -1, err
		}
		if err := p.expectClose(); err != nil {
			return -1, err
		}
		return p.add(fnode{kind: fnPow, left: left, right: right}), nil
	}

	kind, ok := funcByName[name]
	if !ok {
		return -1, p.fail("unknown function " + ident.String())
	}
	arg, err := p.parseOperand()
	if err != nil {
		return -1, err
	}
	if err := p.expectClose(); err != nil {
		return -1, err
	}
	return p.add(fnode{kind: kind, left: arg, right: -1}), nil
}

func (p *formulaParser) expectClose() error {
	p.skipSpace()
	ch, err := p.next(false)
	if err != nil {
		return err
	}
	if ch != ')' {
		return p.fail("expected ')' after function argument")
	}
	return nil
}

// Evaluation. Each node produces a typed scalar; binary operations
// promote card -> int -> float as needed and coerce back at the root.

type scalarKind uint8

const (
	scCard scalarKind = iota
	scInt
	scFloat
)

type scalar struct {
	kind scalarKind
	c    uint32
	i    int32
	f    float64
}

func (s scalar) asFloat() float64 {
	switch s.kind {
	case scCard:
		return float64(s.c)
	case scInt:
		return float64(s.i)
	}
	return s.f
}

func (s scalar) asInt() (int32, error) {
	switch s.kind {
	case scCard:
		if s.c > math.MaxInt32 {
			return 0, fmt.Errorf("%w: cardinal overflows int", ErrExprEval)
		}
		return int32(s.c), nil
	case scInt:
		return s.i, nil
	}
	if s.f < float64(math.MinInt32) || s.f > float64(math.MaxInt32) {
		return 0, fmt.Errorf("%w: float overflows int", ErrExprEval)
	}
	return int32(s.f), nil
}

func (s scalar) asCard() (uint32, error) {
	switch s.kind {
	case scCard:
		return s.c, nil
	case scInt:
		if s.i < 0 {
			return 0, fmt.Errorf("%w: negative value as cardinal", ErrExprEval)
		}
		return uint32(s.i), nil
	}
	if s.f < 0 || s.f > float64(math.MaxUint32) {
		return 0, fmt.Errorf("%w: float overflows cardinal", ErrExprEval)
	}
	return uint32(s.f), nil
}

func promote(a, b scalar) scalarKind {
	if a.kind == scFloat || b.kind == scFloat {
		return scFloat
	}
	if a.kind == scInt || b.kind == scInt {
		return scInt
	}
	return scCard
}

func (ff *FormulaField) eval(idx int32, snaps []Snapshot) (scalar, error) {
	n := &ff.nodes[idx]
	switch n.kind {
	case fnCardLit:
		return scalar{kind: scCard, c: n.c}, nil
	case fnIntLit:
		return scalar{kind: scInt, i: n.i}, nil
	case fnFloatLit:
		return scalar{kind: scFloat, f: n.f}, nil
	case fnFldRef:
		if n.ref >= len(snaps) {
			return scalar{}, fmt.Errorf("%w: field reference %d out of range", ErrExprEval, n.ref+1)
		}
		snap := &snaps[n.ref]
		if snap.Err {
			return scalar{}, fmt.Errorf("%w: source %d in error", ErrExprEval, n.ref+1)
		}
		return snapScalar(&snap.Value)
	}

	left, err := ff.eval(n.left, snaps)
	if err != nil {
		return scalar{}, err
	}
	if isUnary(n.kind) {
		return evalUnary(n.kind, left)
	}
	right, err := ff.eval(n.right, snaps)
	if err != nil {
		return scalar{}, err
	}
	return evalBinary(n.kind, left, right)
}

func snapScalar(v *schema.Value) (scalar, error) {
	switch v.Type() {
	case schema.TypeCard:
		c, _ := v.Card()
		return scalar{kind: scCard, c: c}, nil
	case schema.TypeInt:
		i, _ := v.Int()
		return scalar{kind: scInt, i: i}, nil
	case schema.TypeFloat:
		f, _ := v.Float()
		return scalar{kind: scFloat, f: f}, nil
	case schema.TypeBool:
		b, _ := v.Bool()
		if b {
			return scalar{kind: scCard, c: 1}, nil
		}
		return scalar{kind: scCard, c: 0}, nil
	case schema.TypeTime:
		t, _ := v.Time()
		return scalar{kind: scFloat, f: float64(t)}, nil
	}
	return scalar{}, fmt.Errorf("%w: non-numeric source field", ErrExprEval)
}

func isUnary(k fnodeKind) bool {
	return k >= fnAbs && k <= fnNegate
}

func evalUnary(k fnodeKind, arg scalar) (scalar, error) {
	switch k {
	case fnAbs:
		switch arg.kind {
		case scInt:
			if arg.i == math.MinInt32 {
				return scalar{}, fmt.Errorf("%w: abs overflow", ErrExprEval)
			}
			if arg.i < 0 {
				return scalar{kind: scInt, i: -arg.i}, nil
			}
			return arg, nil
		case scFloat:
			return scalar{kind: scFloat, f: math.Abs(arg.f)}, nil
		}
		return arg, nil
	case fnCosine:
		return scalar{kind: scFloat, f: math.Cos(arg.asFloat())}, nil
	case fnSine:
		return scalar{kind: scFloat, f: math.Sin(arg.asFloat())}, nil
	case fnSqRoot:
		f := arg.asFloat()
		if f < 0 {
			return scalar{}, fmt.Errorf("%w: square root of negative value", ErrExprEval)
		}
		return scalar{kind: scFloat, f: math.Sqrt(f)}, nil
	case fnNLog:
		f := arg.asFloat()
		if f <= 0 {
			return scalar{}, fmt.Errorf("%w: log of non-positive value", ErrExprEval)
		}
		return scalar{kind: scFloat, f: math.Log(f)}, nil
	case fnToCard:
		c, err := arg.asCard()
		if err != nil {
			return scalar{}, err
		}
		return scalar{kind: scCard, c: c}, nil
	case fnToFloat:
		return scalar{kind: scFloat, f: arg.asFloat()}, nil
	case fnToInt:
		i, err := arg.asInt()
		if err != nil {
			return scalar{}, err
		}
		return scalar{kind: scInt, i: i}, nil
	case fnSigned:
		// Bit-pattern reinterpretation, not a range-checked conversion.
		switch arg.kind {
		case scCard:
			return scalar{kind: scInt, i: int32(arg.c)}, nil
		case scInt:
			return arg, nil
		}
		i, err := arg.asInt()
		if err != nil {
			return scalar{}, err
		}
		return scalar{kind: scInt, i: i}, nil
	case fnUnsigned:
		switch arg.kind {
		case scCard:
			return arg, nil
		case scInt:
			return scalar{kind: scCard, c: uint32(arg.i)}, nil
		}
		c, err := arg.asCard()
		if err != nil {
			return scalar{}, err
		}
		return scalar{kind: scCard, c: c}, nil
	case fnNegate:
		switch arg.kind {
		case scCard:
			if arg.c > 1<<31 {
				return scalar{}, fmt.Errorf("%w: negate overflow", ErrExprEval)
			}
			return scalar{kind: scInt, i: int32(-int64(arg.c))}, nil
		case scInt:
			if arg.i == math.MinInt32 {
				return scalar{}, fmt.Errorf("%w: negate overflow", ErrExprEval)
			}
			return scalar{kind: scInt, i: -arg.i}, nil
		}
		return scalar{kind: scFloat, f: -arg.f}, nil
	}
	return scalar{}, fmt.Errorf("%w: bad unary node", ErrExprEval)
}

func evalBinary(k fnodeKind, left, right scalar) (scalar, error) {
	switch k {
	case fnBitAnd, fnBitOr, fnBitXor:
		lc, err := left.asCard()
		if err != nil {
			return scalar{}, err
		}
		rc, err := right.asCard()
		if err != nil {
			return scalar{}, err
		}
		switch k {
		case fnBitAnd:
			return scalar{kind: scCard, c: lc & rc}, nil
		case fnBitOr:
			return scalar{kind: scCard, c: lc | rc}, nil
		default:
			return scalar{kind: scCard, c: lc ^ rc}, nil
		}
	case fnPow:
		f := math.Pow(left.asFloat(), right.asFloat())
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return scalar{}, fmt.Errorf("%w: power result out of range", ErrExprEval)
		}
		return scalar{kind: scFloat, f: f}, nil
	}

	switch promote(left, right) {
	case scFloat:
		lf, rf := left.asFloat(), right.asFloat()
		switch k {
		case fnAdd:
			return scalar{kind: scFloat, f: lf + rf}, nil
		case fnSub:
			return scalar{kind: scFloat, f: lf - rf}, nil
		case fnMul:
			return scalar{kind: scFloat, f: lf * rf}, nil
		case fnDiv:
			if rf == 0 {
				return scalar{}, fmt.Errorf("%w: division by zero", ErrExprEval)
			}
			return scalar{kind: scFloat, f: lf / rf}, nil
		case fnMod:
			if rf == 0 {
				return scalar{}, fmt.Errorf("%w: modulo by zero", ErrExprEval)
			}
			return scalar{kind: scFloat, f: math.Mod(lf, rf)}, nil
		}
	case scInt:
		li, err := left.asInt()
		if err != nil {
			return scalar{}, err
		}
		ri, err := right.asInt()
		if err != nil {
			return scalar{}, err
		}
		l64, r64 := int64(li), int64(ri)
		var res int64
		switch k {
		case fnAdd:
			res = l64 + r64
		case fnSub:
			res = l64 - r64
		case fnMul:
			res = l64 * r64
		case fnDiv:
			if r64 == 0 {
				return scalar{}, fmt.Errorf("%w: division by zero", ErrExprEval)
			}
			res = l64 / r64
		case fnMod:
			if r64 == 0 {
				return scalar{}, fmt.Errorf("%w: modulo by zero", ErrExprEval)
			}
			res = l64 % r64
		}
		if res < math.MinInt32 || res > math.MaxInt32 {
			return scalar{}, fmt.Errorf("%w: integer overflow", ErrExprEval)
		}
		return scalar{kind: scInt, i: int32(res)}, nil
	case scCard:
		lc, rc := uint64(left.c), uint64(right.c)
		var res uint64
		switch k {
		case fnAdd:
			res = lc + rc
		case fnSub:
			if rc > lc {
				return scalar{}, fmt.Errorf("%w: cardinal underflow", ErrExprEval)
			}
			res = lc - rc
		case fnMul:
			res = lc * rc
		case fnDiv:
			if rc == 0 {
				return scalar{}, fmt.Errorf("%w: division by zero", ErrExprEval)
			}
			res = lc / rc
		case fnMod:
			if rc == 0 {
				return scalar{}, fmt.Errorf("%w: modulo by zero", ErrExprEval)
			}
			res = lc % rc
		}
		if res > math.MaxUint32 {
			return scalar{}, fmt.Errorf("%w: cardinal overflow", ErrExprEval)
		}
		return scalar{kind: scCard, c: uint32(res)}, nil
	}
	return scalar{}, fmt.Errorf("%w: bad binary node", ErrExprEval)
}

func (ff *FormulaField) buildValue(snaps []Snapshot, out *schema.Value, _ time.Time) EvalRes {
	if ff.root < 0 || len(ff.nodes) == 0 {
		if err := ff.Parse(); err != nil {
			return EvalError
		}
	}
	res, err := ff.eval(ff.root, snaps)
	if err != nil {
		return EvalError
	}
	return storeNumeric(out, res.asFloat())
}

func (ff *FormulaField) validate(f *Field) error {
	if err := ff.Parse(); err != nil {
		return fmt.Errorf("field %q: %w", f.Name(), err)
	}
	for _, ref := range ff.RefIndices() {
		if ref >= len(f.Sources()) {
			return fmt.Errorf("field %q: formula references source %d but only %d configured",
				f.Name(), ref+1, len(f.Sources()))
		}
	}
	return nil
}

func (ff *FormulaField) equal(o Variant) bool {
	of, ok := o.(*FormulaField)
	return ok && ff.Source == of.Source
}

func (ff *FormulaField) writeBody(w *schema.StreamWriter) {
	w.WriteString(ff.Source)
}

func (ff *FormulaField) readBody(r *schema.StreamReader, _ uint16) error {
	src, err := r.ReadString()
	if err != nil {
		return err
	}
	ff.Source = src
	ff.nodes, ff.root = nil, -1
	return nil
}
