// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package ast declares the types used to represent datalog programs:
// values, terms, predicates, facts, rules, checks, policies and
// blocks. Every node knows how to compare, hash and render itself in
// the v2 surface syntax.
package ast

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Value declares the common interface for all ground term values. Every
// kind of value in the language is represented as a type that
// implements this interface:
//
// - Integer, String, Boolean
// - Date, Bytes
// - Set
type Value interface {
	// Equal returns true if this value equals the other value.
	Equal(other Value) bool

	// Hash returns the hash code of the value.
	Hash() uint64

	// String returns the surface-syntax rendering of the value.
	String() string
}

// Integer represents a signed 64-bit integer value.
type Integer int64

// Equal returns true if the other value is an integer with the same value.
func (i Integer) Equal(other Value) bool {
	j, ok := other.(Integer)
	return ok && i == j
}

// Hash returns the hash code of the integer.
func (i Integer) Hash() uint64 {
	var buf [9]byte
	buf[0] = 'i'
	binary.LittleEndian.PutUint64(buf[1:], uint64(i))
	return xxhash.Sum64(buf[:])
}

func (i Integer) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// String represents a UTF-8 string value.
type String string

// Equal returns true if the other value is an equal string.
func (s String) Equal(other Value) bool {
	t, ok := other.(String)
	return ok && s == t
}

// Hash returns the hash code of the string.
func (s String) Hash() uint64 {
	return hashTagged('s', []byte(s))
}

func (s String) String() string {
	return strconv.Quote(string(s))
}

// Boolean represents a boolean value.
type Boolean bool

// Equal returns true if the other value is an equal boolean.
func (b Boolean) Equal(other Value) bool {
	c, ok := other.(Boolean)
	return ok && b == c
}

// Hash returns the hash code of the boolean.
func (b Boolean) Hash() uint64 {
	if b {
		return hashTagged('b', []byte{1})
	}
	return hashTagged('b', []byte{0})
}

func (b Boolean) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Date represents a point in time. Sub-second precision is preserved
// and significant for both comparison and rendering.
type Date struct {
	t time.Time
}

// NewDate returns a Date for the given time, normalized to UTC.
func NewDate(t time.Time) Date {
	return Date{t: t.UTC()}
}

// Time returns the underlying time value.
func (d Date) Time() time.Time {
	return d.t
}

// Equal returns true if the other value is a date for the same instant.
func (d Date) Equal(other Value) bool {
	e, ok := other.(Date)
	return ok && d.t.Equal(e.t)
}

// Hash returns the hash code of the date.
func (d Date) Hash() uint64 {
	var buf [13]byte
	buf[0] = 'd'
	binary.LittleEndian.PutUint64(buf[1:9], uint64(d.t.Unix()))
	binary.LittleEndian.PutUint32(buf[9:], uint32(d.t.Nanosecond()))
	return xxhash.Sum64(buf[:])
}

func (d Date) String() string {
	return d.t.Format("2006-01-02T15:04:05.999999999Z07:00")
}

// Bytes represents an opaque byte-string value.
type Bytes []byte

// Equal returns true if the other value is an equal byte-string.
func (bs Bytes) Equal(other Value) bool {
	cs, ok := other.(Bytes)
	if !ok || len(bs) != len(cs) {
		return false
	}
	for i := range bs {
		if bs[i] != cs[i] {
			return false
		}
	}
	return true
}

// Hash returns the hash code of the byte-string.
func (bs Bytes) Hash() uint64 {
	return hashTagged('x', bs)
}

func (bs Bytes) String() string {
	return "hex:" + hex.EncodeToString(bs)
}

// Set represents a set of scalar values. Sets never contain variables
// and never nest. Elements are kept sorted and deduplicated, so two
// sets with the same members are structurally identical.
type Set struct {
	elems []Value
}

// NewSet builds a set from the given elements. Elements are sorted and
// deduplicated; nested sets are rejected.
func NewSet(elems ...Value) (Set, error) {
	s := Set{}
	for _, e := range elems {
		switch e.(type) {
		case Set:
			return Set{}, fmt.Errorf("set elements cannot be sets")
		case nil:
			return Set{}, fmt.Errorf("set elements cannot be nil")
		}
		s = s.Add(e)
	}
	return s, nil
}

// MustSet is like NewSet but panics on invalid elements. For use in
// tests and static program construction.
func MustSet(elems ...Value) Set {
	s, err := NewSet(elems...)
	if err != nil {
		panic(err)
	}
	return s
}

// Add returns a set extended with the given element. The receiver is
// not modified.
func (s Set) Add(v Value) Set {
	i := s.search(v)
	if i < len(s.elems) && Compare(s.elems[i], v) == 0 {
		return s
	}
	elems := make([]Value, 0, len(s.elems)+1)
	elems = append(elems, s.elems[:i]...)
	elems = append(elems, v)
	elems = append(elems, s.elems[i:]...)
	return Set{elems: elems}
}

// search returns the insertion index for v in the sorted element slice.
func (s Set) search(v Value) int {
	lo, hi := 0, len(s.elems)
	for lo < hi {
		mid := (lo + hi) / 2
		if Compare(s.elems[mid], v) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Contains returns true if v is a member of the set.
func (s Set) Contains(v Value) bool {
	i := s.search(v)
	return i < len(s.elems) && Compare(s.elems[i], v) == 0
}

// Len returns the number of elements in the set.
func (s Set) Len() int {
	return len(s.elems)
}

// Elems returns the sorted elements of the set.
func (s Set) Elems() []Value {
	return s.elems
}

// Intersection returns the set of elements present in both sets.
func (s Set) Intersection(other Set) Set {
	out := Set{}
	for _, e := range s.elems {
		if other.Contains(e) {
			out = out.Add(e)
		}
	}
	return out
}

// Union returns the set of elements present in either set.
func (s Set) Union(other Set) Set {
	out := s
	for _, e := range other.elems {
		out = out.Add(e)
	}
	return out
}

// Equal returns true if the other value is a set with the same members.
func (s Set) Equal(other Value) bool {
	t, ok := other.(Set)
	if !ok || len(s.elems) != len(t.elems) {
		return false
	}
	for i := range s.elems {
		if !s.elems[i].Equal(t.elems[i]) {
			return false
		}
	}
	return true
}

// Hash returns the hash code of the set. Elements are sorted, so the
// hash is order-independent by construction.
func (s Set) Hash() uint64 {
	h := xxhash.New()
	h.Write([]byte{'S'})
	var buf [8]byte
	for _, e := range s.elems {
		binary.LittleEndian.PutUint64(buf[:], e.Hash())
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (s Set) String() string {
	parts := make([]string, len(s.elems))
	for i, e := range s.elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Var represents a variable. Variables appear in rule heads, rule
// bodies and query bodies; they never appear in facts or inside sets.
type Var string

// Equal returns true if the other variable has the same name.
func (v Var) Equal(other Var) bool {
	return v == other
}

// Hash returns the hash code of the variable.
func (v Var) Hash() uint64 {
	return hashTagged('v', []byte(v))
}

func (v Var) String() string {
	return "$" + string(v)
}

// Term is either a ground Value or a Var. Exactly one of the two
// fields is set; Variable is the empty string for value terms.
type Term struct {
	Value    Value
	Variable Var
}

// ValueTerm returns a term holding the given value.
func ValueTerm(v Value) *Term {
	return &Term{Value: v}
}

// VarTerm returns a term holding a variable with the given name.
func VarTerm(name string) *Term {
	return &Term{Variable: Var(name)}
}

// IsGround returns true if the term holds a value rather than a
// variable.
func (t *Term) IsGround() bool {
	return t.Value != nil
}

// Equal returns true if this term equals the other term.
func (t *Term) Equal(other *Term) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	if t.IsGround() != other.IsGround() {
		return false
	}
	if t.IsGround() {
		return t.Value.Equal(other.Value)
	}
	return t.Variable == other.Variable
}

// Hash returns the hash code of the term.
func (t *Term) Hash() uint64 {
	if t.IsGround() {
		return t.Value.Hash()
	}
	return t.Variable.Hash()
}

func (t *Term) String() string {
	if t.IsGround() {
		return t.Value.String()
	}
	return t.Variable.String()
}

// IntTerm returns a term holding an integer value.
func IntTerm(i int64) *Term {
	return ValueTerm(Integer(i))
}

// StringTerm returns a term holding a string value.
func StringTerm(s string) *Term {
	return ValueTerm(String(s))
}

// BoolTerm returns a term holding a boolean value.
func BoolTerm(b bool) *Term {
	return ValueTerm(Boolean(b))
}

// DateTerm returns a term holding a date value.
func DateTerm(t time.Time) *Term {
	return ValueTerm(NewDate(t))
}

// BytesTerm returns a term holding a byte-string value.
func BytesTerm(bs []byte) *Term {
	return ValueTerm(Bytes(bs))
}

// SetTerm returns a term holding a set built from the given elements.
// It panics on invalid elements, like MustSet.
func SetTerm(elems ...Value) *Term {
	return ValueTerm(MustSet(elems...))
}

func hashTagged(tag byte, bs []byte) uint64 {
	h := xxhash.New()
	h.Write([]byte{tag})
	h.Write(bs)
	return h.Sum64()
}
