// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import "fmt"

// ErrCode defines the types of errors returned by the evaluator.
type ErrCode int

const (
	// TimeoutErr indicates the wall-clock deadline was exceeded or the
	// evaluation was cancelled.
	TimeoutErr ErrCode = iota

	// TooManyFactsErr indicates the fact cap was reached.
	TooManyFactsErr

	// TooManyIterationsErr indicates the fixpoint round cap was
	// reached.
	TooManyIterationsErr

	// InvalidRuleErr indicates a rule head uses a variable that its
	// body does not bind.
	InvalidRuleErr
)

// Error represents a single error raised during evaluation.
type Error struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError returns a new Error object.
func NewError(code ErrCode, f string, a ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(f, a...),
	}
}

// IsError returns true if err is an evaluator error with code.
func IsError(code ErrCode, err error) bool {
	if err, ok := err.(*Error); ok {
		return err.Code == code
	}
	return false
}
