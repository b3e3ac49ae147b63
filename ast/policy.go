// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type (
	// Predicate represents a named, ordered list of terms. Arity is
	// fixed by name within a derivation.
	Predicate struct {
		Name  string
		Terms []*Term
	}

	// Fact is a predicate whose terms are all ground values.
	Fact struct {
		Predicate
	}

	// Rule derives head facts from facts matching its body, gated by
	// its expressions, reading only from the blocks its scope trusts.
	Rule struct {
		Head        Predicate
		Body        []Predicate
		Expressions []Expr
		Scope       []Scope
	}

	// Query is a bodiless rule: a conjunction of body predicates and
	// expressions with a trust scope. Checks and policies are built
	// from queries.
	Query struct {
		Body        []Predicate
		Expressions []Expr
		Scope       []Scope
	}

	// Check is a disjunction of queries carried by a block. It passes
	// if at least one query has a non-empty solution set.
	Check struct {
		Queries []Query
	}

	// Policy is an ordered allow/deny decision carried by the
	// authorizer. The first policy whose query set has any solution
	// decides the verdict.
	Policy struct {
		Kind    PolicyKind
		Queries []Query
	}

	// Block is the datalog content of one token block: its facts,
	// rules and checks, plus the default trust scope its rules and
	// checks inherit when they declare none.
	Block struct {
		Facts   []Fact
		Rules   []Rule
		Checks  []Check
		Scope   []Scope
		Context string
	}
)

// PolicyKind discriminates allow policies from deny policies.
type PolicyKind int

const (
	// PolicyAllow authorizes the request when the policy matches.
	PolicyAllow PolicyKind = iota

	// PolicyDeny refuses the request when the policy matches.
	PolicyDeny
)

func (k PolicyKind) String() string {
	if k == PolicyAllow {
		return "allow"
	}
	return "deny"
}

// Equal returns true if this predicate has the same name and equal
// ordered terms as the other predicate.
func (p Predicate) Equal(other Predicate) bool {
	if p.Name != other.Name || len(p.Terms) != len(other.Terms) {
		return false
	}
	for i := range p.Terms {
		if !p.Terms[i].Equal(other.Terms[i]) {
			return false
		}
	}
	return true
}

// Hash returns the hash code of the predicate.
func (p Predicate) Hash() uint64 {
	h := xxhash.New()
	h.Write([]byte(p.Name))
	h.Write([]byte{'('})
	var buf [8]byte
	for _, t := range p.Terms {
		binary.LittleEndian.PutUint64(buf[:], t.Hash())
		h.Write(buf[:])
	}
	return h.Sum64()
}

// IsGround returns true if every term of the predicate is a value.
func (p Predicate) IsGround() bool {
	for _, t := range p.Terms {
		if !t.IsGround() {
			return false
		}
	}
	return true
}

// Vars returns the set of variables appearing in the predicate.
func (p Predicate) Vars() map[Var]struct{} {
	vars := map[Var]struct{}{}
	for _, t := range p.Terms {
		if !t.IsGround() {
			vars[t.Variable] = struct{}{}
		}
	}
	return vars
}

func (p Predicate) String() string {
	parts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		parts[i] = t.String()
	}
	return p.Name + "(" + strings.Join(parts, ", ") + ")"
}

// NewFact builds a fact from a predicate. The predicate must be
// ground; NewFact returns false otherwise.
func NewFact(p Predicate) (Fact, bool) {
	if !p.IsGround() {
		return Fact{}, false
	}
	return Fact{Predicate: p}, true
}

// MakeFact is a convenience constructor for ground predicates built
// from values.
func MakeFact(name string, values ...Value) Fact {
	terms := make([]*Term, len(values))
	for i, v := range values {
		terms[i] = ValueTerm(v)
	}
	return Fact{Predicate: Predicate{Name: name, Terms: terms}}
}

// Equal returns true if the other fact holds an equal predicate.
func (f Fact) Equal(other Fact) bool {
	return f.Predicate.Equal(other.Predicate)
}

// UnsafeVars returns the head variables of the rule that do not appear
// in its body. A rule is range-restricted, and therefore valid, only
// if this set is empty.
func (rule Rule) UnsafeVars() []Var {
	bound := map[Var]struct{}{}
	for _, p := range rule.Body {
		for v := range p.Vars() {
			bound[v] = struct{}{}
		}
	}
	var unsafe []Var
	for _, t := range rule.Head.Terms {
		if t.IsGround() {
			continue
		}
		if _, ok := bound[t.Variable]; !ok {
			unsafe = append(unsafe, t.Variable)
		}
	}
	return unsafe
}

// Equal returns true if both rules have equal heads, bodies,
// expressions and scopes.
func (rule Rule) Equal(other Rule) bool {
	if !rule.Head.Equal(other.Head) {
		return false
	}
	return queryEqual(rule.Body, rule.Expressions, rule.Scope, other.Body, other.Expressions, other.Scope)
}

func (rule Rule) String() string {
	return rule.Head.String() + " <- " + queryString(rule.Body, rule.Expressions, rule.Scope)
}

// AsQuery returns the rule's body, expressions and scope as a query.
func (rule Rule) AsQuery() Query {
	return Query{Body: rule.Body, Expressions: rule.Expressions, Scope: rule.Scope}
}

// Vars returns the set of variables bound by the query body.
func (q Query) Vars() map[Var]struct{} {
	vars := map[Var]struct{}{}
	for _, p := range q.Body {
		for v := range p.Vars() {
			vars[v] = struct{}{}
		}
	}
	return vars
}

// Equal returns true if both queries have equal bodies, expressions
// and scopes.
func (q Query) Equal(other Query) bool {
	return queryEqual(q.Body, q.Expressions, q.Scope, other.Body, other.Expressions, other.Scope)
}

func (q Query) String() string {
	return queryString(q.Body, q.Expressions, q.Scope)
}

func queryEqual(body []Predicate, exprs []Expr, scope []Scope, obody []Predicate, oexprs []Expr, oscope []Scope) bool {
	if len(body) != len(obody) || len(exprs) != len(oexprs) || len(scope) != len(oscope) {
		return false
	}
	for i := range body {
		if !body[i].Equal(obody[i]) {
			return false
		}
	}
	for i := range exprs {
		if !exprs[i].Equal(oexprs[i]) {
			return false
		}
	}
	for i := range scope {
		if !scope[i].Equal(oscope[i]) {
			return false
		}
	}
	return true
}

func queryString(body []Predicate, exprs []Expr, scope []Scope) string {
	parts := make([]string, 0, len(body)+len(exprs))
	for _, p := range body {
		parts = append(parts, p.String())
	}
	for _, e := range exprs {
		parts = append(parts, e.String())
	}
	out := strings.Join(parts, ", ")
	if len(scope) > 0 {
		scopes := make([]string, len(scope))
		for i, s := range scope {
			scopes[i] = s.String()
		}
		out += " trusting " + strings.Join(scopes, ", ")
	}
	return out
}

// Equal returns true if both checks carry equal ordered queries.
func (c Check) Equal(other Check) bool {
	if len(c.Queries) != len(other.Queries) {
		return false
	}
	for i := range c.Queries {
		if !c.Queries[i].Equal(other.Queries[i]) {
			return false
		}
	}
	return true
}

func (c Check) String() string {
	parts := make([]string, len(c.Queries))
	for i, q := range c.Queries {
		parts[i] = q.String()
	}
	return "check if " + strings.Join(parts, " or ")
}

// Equal returns true if both policies have the same kind and equal
// ordered queries.
func (p Policy) Equal(other Policy) bool {
	if p.Kind != other.Kind || len(p.Queries) != len(other.Queries) {
		return false
	}
	for i := range p.Queries {
		if !p.Queries[i].Equal(other.Queries[i]) {
			return false
		}
	}
	return true
}

func (p Policy) String() string {
	parts := make([]string, len(p.Queries))
	for i, q := range p.Queries {
		parts[i] = q.String()
	}
	return p.Kind.String() + " if " + strings.Join(parts, " or ")
}

// ScopeKind discriminates the three kinds of trust scope element.
type ScopeKind int

const (
	// ScopeAuthority trusts the authority block only.
	ScopeAuthority ScopeKind = iota

	// ScopePrevious trusts every block preceding the owner. On the
	// authorizer that is every token block; on an extra block it is the
	// authority and the extra blocks before it.
	ScopePrevious

	// ScopePublicKey trusts every block signed by a given public key.
	ScopePublicKey
)

// Scope is one element of a trust scope annotation. PublicKey is set
// only when Kind is ScopePublicKey.
type Scope struct {
	Kind      ScopeKind
	PublicKey PublicKey
}

// AuthorityScope returns a scope element trusting the authority block.
func AuthorityScope() Scope {
	return Scope{Kind: ScopeAuthority}
}

// PreviousScope returns a scope element trusting all preceding blocks.
func PreviousScope() Scope {
	return Scope{Kind: ScopePrevious}
}

// PublicKeyScope returns a scope element trusting blocks signed by pk.
func PublicKeyScope(pk PublicKey) Scope {
	return Scope{Kind: ScopePublicKey, PublicKey: pk}
}

// Equal returns true if both scope elements are identical.
func (s Scope) Equal(other Scope) bool {
	if s.Kind != other.Kind {
		return false
	}
	if s.Kind == ScopePublicKey {
		return s.PublicKey.Equal(other.PublicKey)
	}
	return true
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAuthority:
		return "authority"
	case ScopePrevious:
		return "previous"
	default:
		return s.PublicKey.String()
	}
}

// PublicKey identifies the signer of a block. The evaluator treats
// keys as opaque byte-strings; verification happens upstream.
type PublicKey []byte

// Equal returns true if both keys hold the same bytes.
func (pk PublicKey) Equal(other PublicKey) bool {
	if len(pk) != len(other) {
		return false
	}
	for i := range pk {
		if pk[i] != other[i] {
			return false
		}
	}
	return true
}

func (pk PublicKey) String() string {
	return "ed25519/" + hex.EncodeToString(pk)
}

func (b Block) String() string {
	var sb strings.Builder
	if len(b.Scope) > 0 {
		scopes := make([]string, len(b.Scope))
		for i, s := range b.Scope {
			scopes[i] = s.String()
		}
		sb.WriteString("trusting " + strings.Join(scopes, ", ") + ";\n")
	}
	for _, f := range b.Facts {
		sb.WriteString(f.String() + ";\n")
	}
	for _, r := range b.Rules {
		sb.WriteString(r.String() + ";\n")
	}
	for _, c := range b.Checks {
		sb.WriteString(c.String() + ";\n")
	}
	return sb.String()
}
