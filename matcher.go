// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"github.com/biscuit-auth/datalog/ast"
)

// unify matches a body predicate against a candidate fact under the
// current binding. Ground terms must equal the fact's value; a bound
// variable must agree with its binding; a fresh variable takes the
// candidate's value. It returns the variables it freshly bound so the
// caller can backtrack, and reports whether the match succeeded.
func unify(p ast.Predicate, f ast.Fact, b Bindings) ([]ast.Var, bool) {
	if p.Name != f.Name || len(p.Terms) != len(f.Terms) {
		return nil, false
	}
	var fresh []ast.Var
	undo := func() {
		for _, v := range fresh {
			delete(b, v)
		}
	}
	for i, t := range p.Terms {
		v := f.Terms[i].Value
		if t.IsGround() {
			if !t.Value.Equal(v) {
				undo()
				return nil, false
			}
			continue
		}
		if bound, ok := b[t.Variable]; ok {
			if !bound.Equal(v) {
				undo()
				return nil, false
			}
			continue
		}
		b[t.Variable] = v
		fresh = append(fresh, t.Variable)
	}
	return fresh, true
}

// matchBody enumerates every substitution unifying the body against
// the given (already scope-filtered) fact group. emit receives a copy
// of the binding and the union of the matched premises' origins. An
// empty body yields exactly the empty binding.
func matchBody(group *FactGroup, body []ast.Predicate, emit func(Bindings, Origin)) {
	binding := Bindings{}
	var step func(idx int, origin Origin)
	step = func(idx int, origin Origin) {
		if idx == len(body) {
			emit(binding.Copy(), origin)
			return
		}
		group.Iter(func(o Origin, f ast.Fact) bool {
			fresh, ok := unify(body[idx], f, binding)
			if ok {
				step(idx+1, origin.Union(o))
				for _, v := range fresh {
					delete(binding, v)
				}
			}
			return false
		})
	}
	step(0, Origin{})
}

// queryBindings returns the deduplicated, deterministically ordered
// solution set of a query over the facts its scope trusts.
func queryBindings(group *FactGroup, q ast.Query, trusted TrustedOrigins, maxRegexLength int) []Bindings {
	scoped := group.Filter(trusted)
	var out []Bindings
	matchBody(scoped, q.Body, func(b Bindings, _ Origin) {
		if evalExprs(q.Expressions, b, maxRegexLength) {
			out = append(out, b)
		}
	})
	return dedupBindings(out)
}

// applyRule fires one rule over the scoped facts, emitting each head
// instantiation tagged with the combined origin of the rule's block
// and its matched premises. Substitutions whose expressions fail are
// dropped. The rule must be range-restricted; Run verifies that before
// any rule fires.
func applyRule(scoped *FactGroup, rule ast.Rule, owner int, maxRegexLength int, emit func(Origin, ast.Fact) bool) {
	stop := false
	matchBody(scoped, rule.Body, func(b Bindings, premises Origin) {
		if stop || !evalExprs(rule.Expressions, b, maxRegexLength) {
			return
		}
		terms := make([]*ast.Term, len(rule.Head.Terms))
		for i, t := range rule.Head.Terms {
			if t.IsGround() {
				terms[i] = t
				continue
			}
			v, ok := b[t.Variable]
			if !ok {
				return
			}
			terms[i] = ast.ValueTerm(v)
		}
		fact := ast.Fact{Predicate: ast.Predicate{Name: rule.Head.Name, Terms: terms}}
		if emit(premises.Insert(owner), fact) {
			stop = true
		}
	})
}
