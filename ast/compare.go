// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"bytes"
	"fmt"
)

// Compare returns an integer indicating whether two values are less
// than, equal to, or greater than each other.
//
// If a is less than b, the return value is negative. If a is greater
// than b, the return value is positive. If a is equal to b, the return
// value is zero.
//
// Different types are never equal to each other. For comparison
// purposes, types are sorted as follows:
//
// nil < Boolean < Integer < String < Date < Bytes < Set
//
// Sets compare element-wise over their sorted elements; if all shared
// positions are equal, the shorter set is considered less than the
// other. Dates compare at full stored precision. Byte-strings compare
// lexicographically.
func Compare(a, b Value) int {

	if a == nil {
		if b == nil {
			return 0
		}
		return -1
	}
	if b == nil {
		return 1
	}

	sortA := sortOrder(a)
	sortB := sortOrder(b)

	if sortA < sortB {
		return -1
	} else if sortB < sortA {
		return 1
	}

	switch a := a.(type) {
	case Boolean:
		b := b.(Boolean)
		if a == b {
			return 0
		}
		if !a {
			return -1
		}
		return 1
	case Integer:
		b := b.(Integer)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case String:
		b := b.(String)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case Date:
		b := b.(Date)
		switch {
		case a.t.Before(b.t):
			return -1
		case a.t.After(b.t):
			return 1
		}
		return 0
	case Bytes:
		return bytes.Compare(a, []byte(b.(Bytes)))
	case Set:
		b := b.(Set)
		n := min(len(a.elems), len(b.elems))
		for i := 0; i < n; i++ {
			if cmp := Compare(a.elems[i], b.elems[i]); cmp != 0 {
				return cmp
			}
		}
		switch {
		case len(a.elems) < len(b.elems):
			return -1
		case len(a.elems) > len(b.elems):
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("illegal value: %v", a))
}

func sortOrder(v Value) int {
	switch v.(type) {
	case Boolean:
		return 0
	case Integer:
		return 1
	case String:
		return 2
	case Date:
		return 3
	case Bytes:
		return 4
	case Set:
		return 5
	}
	panic(fmt.Sprintf("illegal value: %v", v))
}
