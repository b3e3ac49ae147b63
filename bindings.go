// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"sort"
	"strings"

	"github.com/biscuit-auth/datalog/ast"
)

// Bindings maps variables to the values a body match assigned them.
type Bindings map[ast.Var]ast.Value

// Copy returns an independent copy of the bindings.
func (b Bindings) Copy() Bindings {
	cpy := make(Bindings, len(b))
	for k, v := range b {
		cpy[k] = v
	}
	return cpy
}

// Equal returns true if both bindings map the same variables to equal
// values.
func (b Bindings) Equal(other Bindings) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		w, ok := other[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

func (b Bindings) String() string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = "$" + k + " = " + b[ast.Var(k)].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// dedupBindings removes duplicate bindings and orders the result by
// rendering, so solution sets are deterministic.
func dedupBindings(in []Bindings) []Bindings {
	seen := map[string]struct{}{}
	out := make([]Bindings, 0, len(in))
	for _, b := range in {
		k := b.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
