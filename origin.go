// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package datalog implements the scoped datalog evaluator: per-origin
// fact storage, trust-scope resolution, rule matching and the fixpoint
// driver, all bounded by explicit resource limits.
package datalog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/biscuit-auth/datalog/ast"
)

// Origin is a set of block ids. A fact's origin records every block
// that participated in its derivation: base facts carry the id of the
// declaring block, derived facts the union of the deriving rule's
// block with the origins of all matched premises.
type Origin struct {
	ids []int
}

// NewOrigin builds an origin set from the given block ids.
func NewOrigin(ids ...int) Origin {
	o := Origin{}
	for _, id := range ids {
		o = o.Insert(id)
	}
	return o
}

// Insert returns an origin extended with the given block id. The
// receiver is not modified.
func (o Origin) Insert(id int) Origin {
	i := sort.SearchInts(o.ids, id)
	if i < len(o.ids) && o.ids[i] == id {
		return o
	}
	ids := make([]int, 0, len(o.ids)+1)
	ids = append(ids, o.ids[:i]...)
	ids = append(ids, id)
	ids = append(ids, o.ids[i:]...)
	return Origin{ids: ids}
}

// Union returns the union of both origin sets.
func (o Origin) Union(other Origin) Origin {
	if len(other.ids) == 0 {
		return o
	}
	if len(o.ids) == 0 {
		return other
	}
	out := o
	for _, id := range other.ids {
		out = out.Insert(id)
	}
	return out
}

// Contains returns true if the origin includes the given block id.
func (o Origin) Contains(id int) bool {
	i := sort.SearchInts(o.ids, id)
	return i < len(o.ids) && o.ids[i] == id
}

// IsSubset returns true if every block id of o is contained in other.
func (o Origin) IsSubset(other Origin) bool {
	if len(o.ids) > len(other.ids) {
		return false
	}
	i := 0
	for _, id := range o.ids {
		for i < len(other.ids) && other.ids[i] < id {
			i++
		}
		if i >= len(other.ids) || other.ids[i] != id {
			return false
		}
	}
	return true
}

// Equal returns true if both origins contain the same block ids.
func (o Origin) Equal(other Origin) bool {
	if len(o.ids) != len(other.ids) {
		return false
	}
	for i := range o.ids {
		if o.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// Len returns the number of block ids in the origin.
func (o Origin) Len() int {
	return len(o.ids)
}

// IDs returns the sorted block ids of the origin.
func (o Origin) IDs() []int {
	return o.ids
}

func (o Origin) String() string {
	parts := make([]string, len(o.ids))
	for i, id := range o.ids {
		parts[i] = strconv.Itoa(id)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// key returns a canonical map key for the origin.
func (o Origin) key() string {
	var sb strings.Builder
	for i, id := range o.ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

// TrustedOrigins is the resolved permitted set of a rule, check or
// policy: the block ids whose facts it may consume.
type TrustedOrigins struct {
	origin Origin
}

// Trusts returns true if a fact with origin o may be consumed: every
// block that participated in deriving the fact must be trusted.
func (t TrustedOrigins) Trusts(o Origin) bool {
	return o.IsSubset(t.origin)
}

// Origin returns the underlying id set.
func (t TrustedOrigins) Origin() Origin {
	return t.origin
}

func (t TrustedOrigins) String() string {
	return t.origin.String()
}

// factSet is a hash-indexed set of facts.
type factSet struct {
	n       int
	buckets map[uint64][]ast.Fact
}

func newFactSet() *factSet {
	return &factSet{buckets: map[uint64][]ast.Fact{}}
}

// Add inserts a fact and reports whether it was not already present.
func (fs *factSet) Add(f ast.Fact) bool {
	h := f.Hash()
	for _, g := range fs.buckets[h] {
		if g.Equal(f) {
			return false
		}
	}
	fs.buckets[h] = append(fs.buckets[h], f)
	fs.n++
	return true
}

// Contains returns true if the fact is present.
func (fs *factSet) Contains(f ast.Fact) bool {
	for _, g := range fs.buckets[f.Hash()] {
		if g.Equal(f) {
			return true
		}
	}
	return false
}

// Len returns the number of facts in the set.
func (fs *factSet) Len() int {
	return fs.n
}

// Iter calls f for every fact in the set until f returns true.
func (fs *factSet) Iter(f func(ast.Fact) bool) {
	for _, bucket := range fs.buckets {
		for _, fact := range bucket {
			if f(fact) {
				return
			}
		}
	}
}

// sorted returns the facts ordered by their rendering. Used only for
// deterministic output.
func (fs *factSet) sorted() []ast.Fact {
	out := make([]ast.Fact, 0, fs.n)
	fs.Iter(func(f ast.Fact) bool {
		out = append(out, f)
		return false
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

type originFacts struct {
	origin Origin
	facts  *factSet
}

// FactGroup maps each origin set to the facts derived under it. Every
// fact appears under exactly one origin, its computed origin.
type FactGroup struct {
	groups map[string]*originFacts
}

// NewFactGroup returns an empty fact group.
func NewFactGroup() *FactGroup {
	return &FactGroup{groups: map[string]*originFacts{}}
}

// Add inserts a fact under the given origin and reports whether the
// (origin, fact) pair was not already present.
func (g *FactGroup) Add(o Origin, f ast.Fact) bool {
	k := o.key()
	e, ok := g.groups[k]
	if !ok {
		e = &originFacts{origin: o, facts: newFactSet()}
		g.groups[k] = e
	}
	return e.facts.Add(f)
}

// Contains returns true if the (origin, fact) pair is present.
func (g *FactGroup) Contains(o Origin, f ast.Fact) bool {
	e, ok := g.groups[o.key()]
	return ok && e.facts.Contains(f)
}

// Len returns the number of distinct (origin, fact) pairs.
func (g *FactGroup) Len() int {
	n := 0
	for _, e := range g.groups {
		n += e.facts.Len()
	}
	return n
}

// Union merges all pairs of other into g.
func (g *FactGroup) Union(other *FactGroup) {
	other.Iter(func(o Origin, f ast.Fact) bool {
		g.Add(o, f)
		return false
	})
}

// Filter returns the subgroup whose origins are entirely trusted.
// Filtering is a subset test on the whole origin, never on individual
// block ids: a fact is visible only if every contributing block is
// trusted.
func (g *FactGroup) Filter(trusted TrustedOrigins) *FactGroup {
	out := NewFactGroup()
	for k, e := range g.groups {
		if trusted.Trusts(e.origin) {
			out.groups[k] = e
		}
	}
	return out
}

// Iter calls f for every (origin, fact) pair until f returns true.
func (g *FactGroup) Iter(f func(Origin, ast.Fact) bool) {
	for _, e := range g.groups {
		stop := false
		e.facts.Iter(func(fact ast.Fact) bool {
			stop = f(e.origin, fact)
			return stop
		})
		if stop {
			return
		}
	}
}

// String renders the group sorted by origin then fact, for
// diagnostics and golden tests.
func (g *FactGroup) String() string {
	keys := make([]string, 0, len(g.groups))
	byKey := map[string]*originFacts{}
	for _, e := range g.groups {
		k := e.origin.String()
		keys = append(keys, k)
		byKey[k] = e
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		e := byKey[k]
		for _, f := range e.facts.sorted() {
			sb.WriteString(k + " " + f.String() + ";\n")
		}
	}
	return sb.String()
}
