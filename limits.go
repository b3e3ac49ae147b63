// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import "time"

// Limits bounds one evaluation. All caps are hard failures with no
// partial result. A zero MaxTime disables the deadline; the fact and
// iteration caps are always enforced.
type Limits struct {
	// MaxFacts caps the number of distinct (origin, fact) pairs.
	MaxFacts int

	// MaxIterations caps the number of fixpoint rounds.
	MaxIterations int

	// MaxTime is the wall-clock deadline for a whole authorization.
	MaxTime time.Duration

	// MaxRegexLength caps the length of patterns given to the matches
	// operator. Longer patterns fail the expression.
	MaxRegexLength int
}

// DefaultLimits returns the default evaluation limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFacts:       1000,
		MaxIterations:  100,
		MaxTime:        time.Millisecond,
		MaxRegexLength: 1024,
	}
}
