// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import "fmt"

// Op defines the types of tracing events.
type Op string

const (
	// EnterOp is emitted when a fixpoint run starts.
	EnterOp Op = "Enter"

	// RuleOp is emitted when a rule firing produced new facts.
	RuleOp Op = "Rule"

	// FactOp is emitted for every new (origin, fact) pair a rule
	// derives during the fixpoint. Base facts are not traced.
	FactOp Op = "Fact"

	// ExitOp is emitted when the fixpoint run ends.
	ExitOp Op = "Exit"

	// CheckOp is emitted for every failed check.
	CheckOp Op = "Check"

	// PolicyOp is emitted for the policy that decided the verdict.
	PolicyOp Op = "Policy"
)

// Event contains state associated with a tracing event.
type Event struct {
	Op        Op  // Identifies type of event.
	Node      any // Contains the rule, fact or world relevant to the event.
	Iteration int // Fixpoint round the event belongs to.
}

func (evt Event) String() string {
	return fmt.Sprintf("%v %v (iteration=%v)", evt.Op, evt.Node, evt.Iteration)
}

// Tracer defines the interface for tracing evaluation.
type Tracer interface {
	Enabled() bool
	Trace(evt Event)
}

// BufferedTracer stores every event it receives. It is intended for
// tests and diagnostics.
type BufferedTracer struct {
	Events []Event
}

// Enabled returns true.
func (t *BufferedTracer) Enabled() bool {
	return true
}

// Trace appends the event to the buffer.
func (t *BufferedTracer) Trace(evt Event) {
	t.Events = append(t.Events, evt)
}
