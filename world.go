// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"github.com/biscuit-auth/datalog/ast"
	"github.com/biscuit-auth/datalog/logging"
	"github.com/biscuit-auth/datalog/metrics"
)

// World stores the state of one evaluation: the rules of every block,
// the growing fact group, and the context needed to run the fixpoint.
// A World exists for one authorization; nothing persists across calls.
type World struct {
	env        scopeEnv
	limits     Limits
	rules      []ownedRule
	facts      *FactGroup
	iterations int
	cancel     Cancel
	metrics    metrics.Metrics
	logger     logging.Logger
	tracer     Tracer
	context    string
}

type ownedRule struct {
	owner   int
	rule    ast.Rule
	trusted TrustedOrigins
}

// NewWorld returns a new World for a token whose blocks carry the
// given public keys. keys holds one entry per block id, nil for the
// authority block and for the authorizer's block.
func NewWorld(keys []ast.PublicKey, limits Limits) *World {
	return &World{
		env:     scopeEnv{keys: keys},
		limits:  limits,
		facts:   NewFactGroup(),
		metrics: metrics.NoOp(),
		logger:  logging.NewNoOpLogger(),
	}
}

// WithMetrics sets the metrics collector to use during evaluation.
func (w *World) WithMetrics(m metrics.Metrics) *World {
	w.metrics = m
	return w
}

// WithLogger sets the logger to use during evaluation.
func (w *World) WithLogger(l logging.Logger) *World {
	w.logger = l
	return w
}

// WithTracer sets the tracer to use during evaluation.
func (w *World) WithTracer(t Tracer) *World {
	w.tracer = t
	return w
}

// WithCancel sets the cancellation handle polled during evaluation.
func (w *World) WithCancel(c Cancel) *World {
	w.cancel = c
	return w
}

// AuthorizerID returns the block id of the authorizer's block.
func (w *World) AuthorizerID() int {
	return w.env.authorizerID()
}

// AddFact inserts a base fact under the given origin.
func (w *World) AddFact(o Origin, f ast.Fact) {
	if w.facts.Add(o, f) {
		w.metrics.Counter(metrics.DatalogFacts).Incr()
	}
}

// AddBlockFact inserts a fact declared by the given block.
func (w *World) AddBlockFact(block int, f ast.Fact) {
	w.AddFact(NewOrigin(block), f)
}

// AddRule registers a rule owned by the given block. blockDefault is
// the enclosing block's default scope, inherited when the rule
// declares no scope of its own.
func (w *World) AddRule(owner int, blockDefault []ast.Scope, r ast.Rule) {
	w.rules = append(w.rules, ownedRule{
		owner:   owner,
		rule:    r,
		trusted: w.env.resolve(r.Scope, blockDefault, owner),
	})
}

// SetBlockContext records a block's free-form context string. Blocks
// are loaded in id order and a later non-empty context replaces an
// earlier one.
func (w *World) SetBlockContext(c string) {
	if c != "" {
		w.context = c
	}
}

// BlockContext returns the effective context string.
func (w *World) BlockContext() string {
	return w.context
}

// Facts returns the current fact group.
func (w *World) Facts() *FactGroup {
	return w.facts
}

// Iterations returns the number of fixpoint rounds run so far.
func (w *World) Iterations() int {
	return w.iterations
}

// Run expands the fact group to its fixpoint: every rule is fired over
// the current facts, new (origin, fact) pairs are merged in, and the
// loop repeats until a round produces nothing unseen. The fact and
// iteration caps are hard failures; cancellation surfaces as Timeout.
// Before the first round every rule is checked for range restriction.
func (w *World) Run() error {
	timer := w.metrics.Timer(metrics.DatalogFixpoint)
	timer.Start()
	defer timer.Stop()

	for _, or := range w.rules {
		if unsafe := or.rule.UnsafeVars(); len(unsafe) != 0 {
			return NewError(InvalidRuleErr, "rule head uses unbound variable %v: %v", unsafe[0], or.rule)
		}
	}

	w.traceEvent(EnterOp, w, 0)

	for {
		if w.cancelled() {
			return NewError(TimeoutErr, "evaluation cancelled after %d iterations", w.iterations)
		}

		fresh := NewFactGroup()
		var capErr error
		for _, or := range w.rules {
			if w.cancelled() {
				return NewError(TimeoutErr, "evaluation cancelled after %d iterations", w.iterations)
			}
			scoped := w.facts.Filter(or.trusted)
			before := fresh.Len()
			applyRule(scoped, or.rule, or.owner, w.limits.MaxRegexLength, func(o Origin, f ast.Fact) bool {
				if w.facts.Contains(o, f) || !fresh.Add(o, f) {
					return false
				}
				if w.facts.Len()+fresh.Len() > w.limits.MaxFacts {
					capErr = NewError(TooManyFactsErr, "fact count exceeded %d", w.limits.MaxFacts)
					return true
				}
				w.traceEvent(FactOp, f, w.iterations)
				return false
			})
			if capErr != nil {
				return capErr
			}
			if n := fresh.Len() - before; n > 0 {
				w.metrics.Histogram(metrics.DatalogRuleMatch).Update(int64(n))
				w.traceEvent(RuleOp, or.rule, w.iterations)
			}
		}

		added := fresh.Len()
		w.facts.Union(fresh)
		w.metrics.Counter(metrics.DatalogFacts).Add(uint64(added))
		w.iterations++
		w.metrics.Counter(metrics.DatalogIterations).Incr()
		w.logger.Debug("fixpoint iteration %d produced %d new facts (total %d)", w.iterations, added, w.facts.Len())

		if w.facts.Len() >= w.limits.MaxFacts {
			return NewError(TooManyFactsErr, "fact count reached %d", w.limits.MaxFacts)
		}
		if added == 0 {
			break
		}
		if w.iterations >= w.limits.MaxIterations {
			return NewError(TooManyIterationsErr, "iteration count reached %d", w.limits.MaxIterations)
		}
	}

	w.traceEvent(ExitOp, w, w.iterations)
	return nil
}

// Query returns the solution set of a query owned by the given block,
// against the current facts filtered by the query's resolved scope.
func (w *World) Query(owner int, blockDefault []ast.Scope, q ast.Query) []Bindings {
	trusted := w.env.resolve(q.Scope, blockDefault, owner)
	return queryBindings(w.facts, q, trusted, w.limits.MaxRegexLength)
}

// QueryWithin returns the solution set of a query evaluated with an
// explicit permitted set instead of scope resolution.
func (w *World) QueryWithin(trusted Origin, q ast.Query) []Bindings {
	return queryBindings(w.facts, q, TrustedOrigins{origin: trusted}, w.limits.MaxRegexLength)
}

func (w *World) cancelled() bool {
	return w.cancel != nil && w.cancel.Cancelled()
}

func (w *World) traceEvent(op Op, node any, iteration int) {
	if w.tracer != nil && w.tracer.Enabled() {
		w.tracer.Trace(Event{Op: op, Node: node, Iteration: iteration})
	}
}
