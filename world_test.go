// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"fmt"
	"testing"

	"github.com/biscuit-auth/datalog/ast"
)

// testKeys builds the key vector for a token with n extra blocks.
func testKeys(n int) []ast.PublicKey {
	keys := make([]ast.PublicKey, 0, n+2)
	keys = append(keys, nil)
	for i := 0; i < n; i++ {
		keys = append(keys, ast.PublicKey{byte(i + 1)})
	}
	return append(keys, nil)
}

func testLimits() Limits {
	l := DefaultLimits()
	l.MaxTime = 0
	return l
}

func TestWorldRunDerivesTransitively(t *testing.T) {
	w := NewWorld(testKeys(0), testLimits())
	w.AddBlockFact(0, ast.MakeFact("parent", ast.String("a"), ast.String("b")))
	w.AddBlockFact(0, ast.MakeFact("parent", ast.String("b"), ast.String("c")))
	w.AddRule(0, nil, ast.Rule{
		Head: ast.Predicate{Name: "ancestor", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}},
		Body: []ast.Predicate{{Name: "parent", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}}},
	})
	w.AddRule(0, nil, ast.Rule{
		Head: ast.Predicate{Name: "ancestor", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("z")}},
		Body: []ast.Predicate{
			{Name: "ancestor", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}},
			{Name: "ancestor", Terms: []*ast.Term{ast.VarTerm("y"), ast.VarTerm("z")}},
		},
	})

	if err := w.Run(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !w.Facts().Contains(NewOrigin(0), ast.MakeFact("ancestor", ast.String("a"), ast.String("c"))) {
		t.Fatalf("Expected transitive fact:\n%s", w.Facts())
	}
}

func TestWorldRunMonotonic(t *testing.T) {
	w := NewWorld(testKeys(1), testLimits())
	w.AddBlockFact(0, ast.MakeFact("n", ast.Integer(1)))
	w.AddBlockFact(1, ast.MakeFact("n", ast.Integer(2)))
	w.AddRule(1, nil, ast.Rule{
		Head: ast.Predicate{Name: "m", Terms: []*ast.Term{ast.VarTerm("x")}},
		Body: []ast.Predicate{{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}}},
	})

	before := NewFactGroup()
	w.Facts().Iter(func(o Origin, f ast.Fact) bool {
		before.Add(o, f)
		return false
	})

	if err := w.Run(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	missing := false
	before.Iter(func(o Origin, f ast.Fact) bool {
		if !w.Facts().Contains(o, f) {
			missing = true
		}
		return false
	})
	if missing {
		t.Fatalf("Expected every initial fact to survive the fixpoint:\n%s", w.Facts())
	}
	if w.Facts().Len() <= before.Len() {
		t.Fatalf("Expected the rule to add facts, got %d -> %d", before.Len(), w.Facts().Len())
	}
}

func TestWorldRunScopeFiltersRule(t *testing.T) {
	// The extra block declares n(2); an authority-scoped authorizer
	// rule must not consume it.
	w := NewWorld(testKeys(1), testLimits())
	authorizer := w.AuthorizerID()
	w.AddBlockFact(0, ast.MakeFact("n", ast.Integer(1)))
	w.AddBlockFact(1, ast.MakeFact("n", ast.Integer(2)))
	w.AddRule(authorizer, nil, ast.Rule{
		Head:  ast.Predicate{Name: "seen", Terms: []*ast.Term{ast.VarTerm("x")}},
		Body:  []ast.Predicate{{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}}},
		Scope: []ast.Scope{ast.AuthorityScope()},
	})

	if err := w.Run(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !w.Facts().Contains(NewOrigin(0, authorizer), ast.MakeFact("seen", ast.Integer(1))) {
		t.Fatalf("Expected seen(1):\n%s", w.Facts())
	}
	found := false
	w.Facts().Iter(func(o Origin, f ast.Fact) bool {
		if f.Equal(ast.MakeFact("seen", ast.Integer(2))) {
			found = true
		}
		return false
	})
	if found {
		t.Fatalf("Expected the extra block's fact to stay invisible:\n%s", w.Facts())
	}
}

func TestWorldRunInvalidRule(t *testing.T) {
	w := NewWorld(testKeys(0), testLimits())
	w.AddBlockFact(0, ast.MakeFact("b", ast.Integer(1)))
	w.AddRule(0, nil, ast.Rule{
		Head: ast.Predicate{Name: "h", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}},
		Body: []ast.Predicate{{Name: "b", Terms: []*ast.Term{ast.VarTerm("x")}}},
	})

	err := w.Run()
	if !IsError(InvalidRuleErr, err) {
		t.Fatalf("Expected InvalidRuleErr, got %v", err)
	}
	if w.Iterations() != 0 {
		t.Fatalf("Expected no iterations before the failure, got %d", w.Iterations())
	}
}

func TestWorldRunTooManyFacts(t *testing.T) {
	limits := testLimits()
	limits.MaxFacts = 10000
	w := NewWorld(testKeys(0), limits)
	for i := 0; i < 1000; i++ {
		w.AddBlockFact(0, ast.MakeFact("n", ast.Integer(int64(i))))
	}
	w.AddRule(0, nil, ast.Rule{
		Head: ast.Predicate{Name: "p", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}},
		Body: []ast.Predicate{
			{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}},
			{Name: "n", Terms: []*ast.Term{ast.VarTerm("y")}},
		},
	})

	err := w.Run()
	if !IsError(TooManyFactsErr, err) {
		t.Fatalf("Expected TooManyFactsErr, got %v", err)
	}
}

func TestWorldRunTooManyIterations(t *testing.T) {
	limits := testLimits()
	limits.MaxIterations = 5
	// A ladder of succ facts makes each round derive exactly one new
	// reach fact, so the round cap fires before quiescence.
	w := NewWorld(testKeys(0), limits)
	for i := 0; i < 100; i++ {
		w.AddBlockFact(0, ast.MakeFact("succ", ast.Integer(int64(i)), ast.Integer(int64(i+1))))
	}
	w.AddBlockFact(0, ast.MakeFact("reach", ast.Integer(0)))
	w.AddRule(0, nil, ast.Rule{
		Head: ast.Predicate{Name: "reach", Terms: []*ast.Term{ast.VarTerm("y")}},
		Body: []ast.Predicate{
			{Name: "reach", Terms: []*ast.Term{ast.VarTerm("x")}},
			{Name: "succ", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}},
		},
	})

	err := w.Run()
	if !IsError(TooManyIterationsErr, err) {
		t.Fatalf("Expected TooManyIterationsErr, got %v", err)
	}
}

func TestWorldRunCancelled(t *testing.T) {
	w := NewWorld(testKeys(0), testLimits())
	cancel := NewCancel()
	w.WithCancel(cancel)
	w.AddBlockFact(0, ast.MakeFact("n", ast.Integer(1)))

	cancel.Cancel()
	err := w.Run()
	if !IsError(TimeoutErr, err) {
		t.Fatalf("Expected TimeoutErr, got %v", err)
	}
}

func TestWorldRunDeterministic(t *testing.T) {
	run := func() string {
		w := NewWorld(testKeys(1), testLimits())
		for i := 0; i < 20; i++ {
			w.AddBlockFact(0, ast.MakeFact("n", ast.Integer(int64(i))))
		}
		w.AddRule(1, nil, ast.Rule{
			Head: ast.Predicate{Name: "pair", Terms: []*ast.Term{ast.VarTerm("x"), ast.VarTerm("y")}},
			Body: []ast.Predicate{
				{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}},
				{Name: "n", Terms: []*ast.Term{ast.VarTerm("y")}},
			},
			Expressions: []ast.Expr{
				ast.Binary(ast.BinaryLessThan, ast.TermExpr(ast.VarTerm("x")), ast.TermExpr(ast.VarTerm("y"))),
			},
		})
		if err := w.Run(); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		return w.Facts().String()
	}

	first := run()
	for i := 0; i < 3; i++ {
		if got := run(); got != first {
			t.Fatalf("Expected identical fact groups across runs:\n%s\nvs\n%s", first, got)
		}
	}
}

func TestWorldQuery(t *testing.T) {
	w := NewWorld(testKeys(1), testLimits())
	w.AddBlockFact(0, ast.MakeFact("owner", ast.String("alice")))
	w.AddBlockFact(1, ast.MakeFact("owner", ast.String("mallory")))
	if err := w.Run(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	q := ast.Query{Body: []ast.Predicate{{Name: "owner", Terms: []*ast.Term{ast.VarTerm("x")}}}}

	// The authorizer's default scope sees both facts.
	got := w.Query(w.AuthorizerID(), nil, q)
	if len(got) != 2 {
		t.Fatalf("Expected 2 bindings, got %v", got)
	}

	// An authority-restricted query sees one.
	restricted := q
	restricted.Scope = []ast.Scope{ast.AuthorityScope()}
	got = w.Query(w.AuthorizerID(), nil, restricted)
	if len(got) != 1 || !got[0].Equal(Bindings{"x": ast.String("alice")}) {
		t.Fatalf("Unexpected bindings: %v", got)
	}

	// QueryWithin bypasses scope resolution entirely.
	got = w.QueryWithin(NewOrigin(0), q)
	if len(got) != 1 {
		t.Fatalf("Unexpected bindings: %v", got)
	}
}

func TestWorldTracer(t *testing.T) {
	w := NewWorld(testKeys(0), testLimits())
	tracer := &BufferedTracer{}
	w.WithTracer(tracer)
	w.AddBlockFact(0, ast.MakeFact("n", ast.Integer(1)))
	w.AddRule(0, nil, ast.Rule{
		Head: ast.Predicate{Name: "m", Terms: []*ast.Term{ast.VarTerm("x")}},
		Body: []ast.Predicate{{Name: "n", Terms: []*ast.Term{ast.VarTerm("x")}}},
	})

	if err := w.Run(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tracer.Events) == 0 {
		t.Fatal("Expected trace events")
	}
	if tracer.Events[0].Op != EnterOp {
		t.Fatalf("Expected first event to be Enter, got %v", tracer.Events[0])
	}
	if tracer.Events[len(tracer.Events)-1].Op != ExitOp {
		t.Fatalf("Expected last event to be Exit, got %v", tracer.Events[len(tracer.Events)-1])
	}
	counts := map[Op]int{}
	for _, evt := range tracer.Events {
		counts[evt.Op]++
	}
	if counts[FactOp] != 1 || counts[RuleOp] != 1 {
		t.Fatalf("Unexpected event counts: %v", counts)
	}
}

func TestWorldBlockContext(t *testing.T) {
	w := NewWorld(testKeys(1), testLimits())
	w.SetBlockContext("first")
	w.SetBlockContext("")
	if got := w.BlockContext(); got != "first" {
		t.Fatalf("Expected empty context to be ignored, got %q", got)
	}
	w.SetBlockContext("second")
	if got := w.BlockContext(); got != "second" {
		t.Fatalf("Expected last writer to win, got %q", got)
	}
}

func TestErrorRendering(t *testing.T) {
	err := NewError(TooManyFactsErr, "fact count exceeded %d", 42)
	if err.Error() != "fact count exceeded 42" {
		t.Fatalf("Unexpected message: %q", err.Error())
	}
	if !IsError(TooManyFactsErr, err) {
		t.Fatal("Expected code match")
	}
	if IsError(TimeoutErr, err) {
		t.Fatal("Expected code mismatch")
	}
	if IsError(TimeoutErr, fmt.Errorf("plain")) {
		t.Fatal("Expected non-evaluator error to not match")
	}
}
