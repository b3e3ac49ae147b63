// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"testing"

	"github.com/biscuit-auth/datalog/ast"
)

func TestUnify(t *testing.T) {
	fact := ast.MakeFact("right", ast.String("file1"), ast.String("read"))

	tests := []struct {
		note    string
		pred    ast.Predicate
		binding Bindings
		ok      bool
		want    Bindings
	}{
		{
			"fresh variables",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.VarTerm("r"), ast.VarTerm("op")}},
			Bindings{},
			true,
			Bindings{"r": ast.String("file1"), "op": ast.String("read")},
		},
		{
			"ground match",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.StringTerm("file1"), ast.VarTerm("op")}},
			Bindings{},
			true,
			Bindings{"op": ast.String("read")},
		},
		{
			"ground mismatch",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.StringTerm("file2"), ast.VarTerm("op")}},
			Bindings{},
			false,
			Bindings{},
		},
		{
			"bound variable agrees",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.VarTerm("r"), ast.VarTerm("op")}},
			Bindings{"r": ast.String("file1")},
			true,
			Bindings{"r": ast.String("file1"), "op": ast.String("read")},
		},
		{
			"bound variable disagrees",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.VarTerm("r"), ast.VarTerm("op")}},
			Bindings{"r": ast.String("file2")},
			false,
			Bindings{"r": ast.String("file2")},
		},
		{
			"name mismatch",
			ast.Predicate{Name: "owner", Terms: []*ast.Term{ast.VarTerm("r"), ast.VarTerm("op")}},
			Bindings{},
			false,
			Bindings{},
		},
		{
			"arity mismatch",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.VarTerm("r")}},
			Bindings{},
			false,
			Bindings{},
		},
		{
			"repeated variable",
			ast.Predicate{Name: "right", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("x")}},
			Bindings{},
			false,
			Bindings{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			_, ok := unify(tc.pred, fact, tc.binding)
			if ok != tc.ok {
				t.Fatalf("Expected ok=%v, got %v", tc.ok, ok)
			}
			// On failure the binding must be restored.
			if !tc.binding.Equal(tc.want) {
				t.Fatalf("Expected bindings %v, got %v", tc.want, tc.binding)
			}
		})
	}
}

func TestMatchBodyJoin(t *testing.T) {
	group := NewFactGroup()
	group.Add(NewOrigin(0), ast.MakeFact("user", ast.String("alice")))
	group.Add(NewOrigin(0), ast.MakeFact("user", ast.String("bob")))
	group.Add(NewOrigin(1), ast.MakeFact("role", ast.String("alice"), ast.String("admin")))

	body := []ast.Predicate{
		{Name: "user", Terms: []*ast.Term{ast.VarTerm("u")}},
		{Name: "role", Terms: []*ast.Term{ast.VarTerm("u"), ast.VarTerm("r")}},
	}

	var got []Bindings
	var origins []Origin
	matchBody(group, body, func(b Bindings, o Origin) {
		got = append(got, b)
		origins = append(origins, o)
	})

	if len(got) != 1 {
		t.Fatalf("Expected 1 solution, got %d: %v", len(got), got)
	}
	want := Bindings{"u": ast.String("alice"), "r": ast.String("admin")}
	if !got[0].Equal(want) {
		t.Fatalf("Expected %v, got %v", want, got[0])
	}
	if !origins[0].Equal(NewOrigin(0, 1)) {
		t.Fatalf("Expected combined origin {0, 1}, got %v", origins[0])
	}
}

func TestMatchBodyEmptyBody(t *testing.T) {
	group := NewFactGroup()
	group.Add(NewOrigin(0), ast.MakeFact("noise", ast.Integer(1)))

	count := 0
	matchBody(group, nil, func(b Bindings, o Origin) {
		count++
		if len(b) != 0 {
			t.Fatalf("Expected empty binding, got %v", b)
		}
		if o.Len() != 0 {
			t.Fatalf("Expected empty origin, got %v", o)
		}
	})
	if count != 1 {
		t.Fatalf("Expected exactly one empty solution, got %d", count)
	}
}

func TestApplyRuleOrigins(t *testing.T) {
	group := NewFactGroup()
	group.Add(NewOrigin(0), ast.MakeFact("resource", ast.String("file1")))
	group.Add(NewOrigin(2), ast.MakeFact("resource", ast.String("file2")))

	rule := ast.Rule{
		Head: ast.Predicate{Name: "readable", Terms: []*ast.Term{ast.VarTerm("r")}},
		Body: []ast.Predicate{{Name: "resource", Terms: []*ast.Term{ast.VarTerm("r")}}},
	}

	derived := NewFactGroup()
	applyRule(group, rule, 1, testMaxRegexLength, func(o Origin, f ast.Fact) bool {
		derived.Add(o, f)
		return false
	})

	if derived.Len() != 2 {
		t.Fatalf("Expected 2 derived facts, got %d", derived.Len())
	}
	if !derived.Contains(NewOrigin(0, 1), ast.MakeFact("readable", ast.String("file1"))) {
		t.Fatalf("Expected readable(file1) under {0, 1}:\n%s", derived)
	}
	if !derived.Contains(NewOrigin(1, 2), ast.MakeFact("readable", ast.String("file2"))) {
		t.Fatalf("Expected readable(file2) under {1, 2}:\n%s", derived)
	}
}

func TestApplyRuleExpressionGate(t *testing.T) {
	group := NewFactGroup()
	group.Add(NewOrigin(0), ast.MakeFact("n", ast.Integer(1)))
	group.Add(NewOrigin(0), ast.MakeFact("n", ast.Integer(5)))

	rule := ast.Rule{
		Head: ast.Predicate{Name: "small", Terms: []*ast.Term{ast.VarTerm("x")}},
		Body: []ast.Predicate{{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}}},
		Expressions: []ast.Expr{
			ast.Binary(ast.BinaryLessThan, ast.TermExpr(ast.VarTerm("x")), ast.TermExpr(ast.IntTerm(3))),
		},
	}

	derived := NewFactGroup()
	applyRule(group, rule, 0, testMaxRegexLength, func(o Origin, f ast.Fact) bool {
		derived.Add(o, f)
		return false
	})

	if derived.Len() != 1 {
		t.Fatalf("Expected 1 derived fact, got %d:\n%s", derived.Len(), derived)
	}
	if !derived.Contains(NewOrigin(0), ast.MakeFact("small", ast.Integer(1))) {
		t.Fatalf("Expected small(1):\n%s", derived)
	}
}

func TestApplyRuleStopsOnRequest(t *testing.T) {
	group := NewFactGroup()
	for i := 0; i < 10; i++ {
		group.Add(NewOrigin(0), ast.MakeFact("n", ast.Integer(int64(i))))
	}

	rule := ast.Rule{
		Head: ast.Predicate{Name: "m", Terms: []*ast.Term{ast.VarTerm("x")}},
		Body: []ast.Predicate{{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}}},
	}

	count := 0
	applyRule(group, rule, 0, testMaxRegexLength, func(Origin, ast.Fact) bool {
		count++
		return count == 3
	})

	if count != 3 {
		t.Fatalf("Expected enumeration to stop after 3 emissions, got %d", count)
	}
}

func TestQueryBindings(t *testing.T) {
	group := NewFactGroup()
	group.Add(NewOrigin(0), ast.MakeFact("owner", ast.String("alice")))
	group.Add(NewOrigin(1), ast.MakeFact("owner", ast.String("mallory")))

	q := ast.Query{
		Body: []ast.Predicate{{Name: "owner", Terms: []*ast.Term{ast.VarTerm("x")}}},
	}

	// Trusting every block yields both bindings, in deterministic order.
	got := queryBindings(group, q, TrustedOrigins{origin: NewOrigin(0, 1)}, testMaxRegexLength)
	if len(got) != 2 {
		t.Fatalf("Expected 2 bindings, got %v", got)
	}
	if !got[0].Equal(Bindings{"x": ast.String("alice")}) || !got[1].Equal(Bindings{"x": ast.String("mallory")}) {
		t.Fatalf("Unexpected bindings: %v", got)
	}

	// Trusting only the authority hides the extra block's fact.
	got = queryBindings(group, q, TrustedOrigins{origin: NewOrigin(0)}, testMaxRegexLength)
	if len(got) != 1 || !got[0].Equal(Bindings{"x": ast.String("alice")}) {
		t.Fatalf("Unexpected bindings: %v", got)
	}
}

func TestQueryBindingsDeduplicates(t *testing.T) {
	group := NewFactGroup()
	group.Add(NewOrigin(0), ast.MakeFact("p", ast.Integer(1)))
	group.Add(NewOrigin(1), ast.MakeFact("p", ast.Integer(1)))

	q := ast.Query{
		Body: []ast.Predicate{{Name: "p", Terms: []*ast.Term{ast.VarTerm("x")}}},
	}

	got := queryBindings(group, q, TrustedOrigins{origin: NewOrigin(0, 1)}, testMaxRegexLength)
	if len(got) != 1 {
		t.Fatalf("Expected the same solution under two origins to deduplicate, got %v", got)
	}
}
