// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"math"
	"regexp"
	"strings"

	"github.com/biscuit-auth/datalog/ast"
)

// evalExpr evaluates an expression tree under a binding. The boolean
// result reports success: substituting an unbound variable, any type
// mismatch, arithmetic overflow, division by zero and regex failures
// all make the expression fail. Failures are local to the candidate
// binding and never surface as errors.
func evalExpr(e ast.Expr, b Bindings, maxRegexLength int) (ast.Value, bool) {
	switch e := e.(type) {
	case ast.ExprValue:
		if e.Term.IsGround() {
			return e.Term.Value, true
		}
		v, ok := b[e.Term.Variable]
		return v, ok
	case ast.ExprUnary:
		v, ok := evalExpr(e.Expr, b, maxRegexLength)
		if !ok {
			return nil, false
		}
		return evalUnary(e.Op, v)
	case ast.ExprBinary:
		left, ok := evalExpr(e.Left, b, maxRegexLength)
		if !ok {
			return nil, false
		}
		right, ok := evalExpr(e.Right, b, maxRegexLength)
		if !ok {
			return nil, false
		}
		return evalBinary(e.Op, left, right, maxRegexLength)
	}
	return nil, false
}

// evalExprs evaluates a whole expression list; the list passes only if
// every expression yields boolean true.
func evalExprs(exprs []ast.Expr, b Bindings, maxRegexLength int) bool {
	for _, e := range exprs {
		v, ok := evalExpr(e, b, maxRegexLength)
		if !ok {
			return false
		}
		res, ok := v.(ast.Boolean)
		if !ok || !bool(res) {
			return false
		}
	}
	return true
}

func evalUnary(op ast.UnaryOp, v ast.Value) (ast.Value, bool) {
	switch op {
	case ast.UnaryNegate:
		b, ok := v.(ast.Boolean)
		if !ok {
			return nil, false
		}
		return !b, true
	case ast.UnaryParens:
		return v, true
	case ast.UnaryLength:
		switch v := v.(type) {
		case ast.String:
			return ast.Integer(len(v)), true
		case ast.Bytes:
			return ast.Integer(len(v)), true
		case ast.Set:
			return ast.Integer(v.Len()), true
		}
		return nil, false
	}
	return nil, false
}

func evalBinary(op ast.BinaryOp, left, right ast.Value, maxRegexLength int) (ast.Value, bool) {
	switch op {
	case ast.BinaryLessThan, ast.BinaryGreaterThan, ast.BinaryLessOrEqual, ast.BinaryGreaterOrEqual:
		return evalOrdering(op, left, right)

	case ast.BinaryEqual:
		switch left.(type) {
		case ast.Integer, ast.String, ast.Date, ast.Bytes, ast.Boolean:
			if sameKind(left, right) {
				return ast.Boolean(left.Equal(right)), true
			}
		}
		return nil, false

	case ast.BinaryContains:
		switch l := left.(type) {
		case ast.Set:
			switch right.(type) {
			case ast.Integer, ast.String, ast.Date, ast.Bytes, ast.Boolean:
				return ast.Boolean(l.Contains(right)), true
			}
		case ast.String:
			if r, ok := right.(ast.String); ok {
				return ast.Boolean(strings.Contains(string(l), string(r))), true
			}
		}
		return nil, false

	case ast.BinaryPrefix:
		l, lok := left.(ast.String)
		r, rok := right.(ast.String)
		if !lok || !rok {
			return nil, false
		}
		return ast.Boolean(strings.HasPrefix(string(l), string(r))), true

	case ast.BinarySuffix:
		l, lok := left.(ast.String)
		r, rok := right.(ast.String)
		if !lok || !rok {
			return nil, false
		}
		return ast.Boolean(strings.HasSuffix(string(l), string(r))), true

	case ast.BinaryRegex:
		l, lok := left.(ast.String)
		r, rok := right.(ast.String)
		if !lok || !rok {
			return nil, false
		}
		if maxRegexLength > 0 && len(r) > maxRegexLength {
			return nil, false
		}
		re, err := regexp.Compile(string(r))
		if err != nil {
			return nil, false
		}
		return ast.Boolean(re.MatchString(string(l))), true

	case ast.BinaryAdd, ast.BinarySub, ast.BinaryMul, ast.BinaryDiv:
		l, lok := left.(ast.Integer)
		r, rok := right.(ast.Integer)
		if !lok || !rok {
			return nil, false
		}
		return evalArith(op, int64(l), int64(r))

	case ast.BinaryAnd:
		l, lok := left.(ast.Boolean)
		r, rok := right.(ast.Boolean)
		if !lok || !rok {
			return nil, false
		}
		return l && r, true

	case ast.BinaryOr:
		l, lok := left.(ast.Boolean)
		r, rok := right.(ast.Boolean)
		if !lok || !rok {
			return nil, false
		}
		return l || r, true

	case ast.BinaryIntersection:
		l, lok := left.(ast.Set)
		r, rok := right.(ast.Set)
		if !lok || !rok {
			return nil, false
		}
		return l.Intersection(r), true

	case ast.BinaryUnion:
		l, lok := left.(ast.Set)
		r, rok := right.(ast.Set)
		if !lok || !rok {
			return nil, false
		}
		return l.Union(r), true
	}
	return nil, false
}

// evalOrdering implements the ordered comparisons over matching scalar
// types. Booleans and sets are not ordered.
func evalOrdering(op ast.BinaryOp, left, right ast.Value) (ast.Value, bool) {
	switch left.(type) {
	case ast.Integer, ast.String, ast.Date, ast.Bytes:
		if !sameKind(left, right) {
			return nil, false
		}
	default:
		return nil, false
	}
	cmp := ast.Compare(left, right)
	switch op {
	case ast.BinaryLessThan:
		return ast.Boolean(cmp < 0), true
	case ast.BinaryGreaterThan:
		return ast.Boolean(cmp > 0), true
	case ast.BinaryLessOrEqual:
		return ast.Boolean(cmp <= 0), true
	default:
		return ast.Boolean(cmp >= 0), true
	}
}

// evalArith implements checked 64-bit integer arithmetic. Overflow and
// division by zero fail the expression.
func evalArith(op ast.BinaryOp, a, b int64) (ast.Value, bool) {
	switch op {
	case ast.BinaryAdd:
		if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
			return nil, false
		}
		return ast.Integer(a + b), true
	case ast.BinarySub:
		if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
			return nil, false
		}
		return ast.Integer(a - b), true
	case ast.BinaryMul:
		if a == math.MinInt64 && b == -1 || b == math.MinInt64 && a == -1 {
			return nil, false
		}
		c := a * b
		if a != 0 && c/a != b {
			return nil, false
		}
		return ast.Integer(c), true
	default:
		if b == 0 {
			return nil, false
		}
		if a == math.MinInt64 && b == -1 {
			return nil, false
		}
		return ast.Integer(a / b), true
	}
}

func sameKind(a, b ast.Value) bool {
	switch a.(type) {
	case ast.Integer:
		_, ok := b.(ast.Integer)
		return ok
	case ast.String:
		_, ok := b.(ast.String)
		return ok
	case ast.Boolean:
		_, ok := b.(ast.Boolean)
		return ok
	case ast.Date:
		_, ok := b.(ast.Date)
		return ok
	case ast.Bytes:
		_, ok := b.(ast.Bytes)
		return ok
	case ast.Set:
		_, ok := b.(ast.Set)
		return ok
	}
	return false
}
