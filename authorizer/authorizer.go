// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package authorizer exposes the high-level authorization API: load
// the blocks of a token plus the authorizer's own block and policies,
// run the evaluator, and classify the outcome.
package authorizer

import (
	"context"
	"time"

	"github.com/biscuit-auth/datalog"
	"github.com/biscuit-auth/datalog/ast"
	"github.com/biscuit-auth/datalog/logging"
	"github.com/biscuit-auth/datalog/metrics"
)

// RevocationFactName is the name of the facts carrying each block's
// revocation identifier. They live under the authorizer's origin.
// Every resolved scope includes the authorizer's block id, so the
// rules and checks of token blocks can read them as well; they are not
// restricted to authorizer-owned rules.
const RevocationFactName = "revocation_id"

// AuthorityBlock is the first block of a token.
type AuthorityBlock struct {
	Block        ast.Block
	RevocationID []byte
}

// ExtraBlock is a block appended after minting. It is untrusted
// relative to the authority and carries the public key it was signed
// with, used for scope resolution.
type ExtraBlock struct {
	Block        ast.Block
	RevocationID []byte
	PublicKey    ast.PublicKey
}

// Authorizer evaluates one token against the verifier's own block and
// policies. Build it with New and the option functions, then call
// Authorize.
type Authorizer struct {
	authority AuthorityBlock
	extras    []ExtraBlock
	block     ast.Block
	policies  []ast.Policy
	limits    datalog.Limits
	metrics   metrics.Metrics
	logger    logging.Logger
	tracer    datalog.Tracer
}

// Authority returns an argument that sets the token's authority block.
func Authority(b AuthorityBlock) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.authority = b
	}
}

// Extra returns an argument that appends one extra block to the token.
func Extra(b ExtraBlock) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.extras = append(a.extras, b)
	}
}

// Block returns an argument that sets the authorizer's own block.
func Block(b ast.Block) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.block = b
	}
}

// Policy returns an argument that appends one policy. Policies are
// evaluated in the order they were added.
func Policy(p ast.Policy) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.policies = append(a.policies, p)
	}
}

// Limits returns an argument that sets the evaluation resource limits.
func Limits(l datalog.Limits) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.limits = l
	}
}

// Metrics returns an argument that sets the metrics collection.
func Metrics(m metrics.Metrics) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.metrics = m
	}
}

// Logger returns an argument that sets the logger.
func Logger(l logging.Logger) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.logger = l
	}
}

// Tracer returns an argument that sets an evaluation tracer.
func Tracer(t datalog.Tracer) func(a *Authorizer) {
	return func(a *Authorizer) {
		a.tracer = t
	}
}

// New returns a new Authorizer object.
func New(options ...func(a *Authorizer)) *Authorizer {
	a := &Authorizer{
		limits: datalog.DefaultLimits(),
	}

	for _, option := range options {
		option(a)
	}

	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	if a.logger == nil {
		a.logger = logging.NewNoOpLogger()
	}

	return a
}

// Authorize runs the full evaluation: build the world from every
// block, run the fixpoint, evaluate all checks, select a policy, and
// classify the verdict. It honors ctx and the limits' wall-clock
// deadline; on either expiring the call fails with a Timeout error.
func (a *Authorizer) Authorize(ctx context.Context) (*Success, error) {
	timer := a.metrics.Timer(metrics.AuthorizerEval)
	timer.Start()
	defer timer.Stop()

	cancel := datalog.NewCancel()
	exit := make(chan struct{})
	defer close(exit)
	go waitForDone(ctx, exit, cancel.Cancel)
	if a.limits.MaxTime > 0 {
		watchdog := time.AfterFunc(a.limits.MaxTime, cancel.Cancel)
		defer watchdog.Stop()
	}

	keys := make([]ast.PublicKey, 0, len(a.extras)+2)
	keys = append(keys, nil)
	for _, e := range a.extras {
		keys = append(keys, e.PublicKey)
	}
	keys = append(keys, nil)

	world := datalog.NewWorld(keys, a.limits).
		WithMetrics(a.metrics).
		WithLogger(a.logger).
		WithCancel(cancel)
	if a.tracer != nil {
		world = world.WithTracer(a.tracer)
	}

	blocks := a.blocks()
	for id, blk := range blocks {
		for _, f := range blk.Facts {
			world.AddBlockFact(id, f)
		}
		for _, r := range blk.Rules {
			world.AddRule(id, blk.Scope, r)
		}
		world.SetBlockContext(blk.Context)
	}

	authorizerID := world.AuthorizerID()
	revocationOrigin := datalog.NewOrigin(authorizerID)
	world.AddFact(revocationOrigin, revocationFact(0, a.authority.RevocationID))
	for i, e := range a.extras {
		world.AddFact(revocationOrigin, revocationFact(i+1, e.RevocationID))
	}

	if err := world.Run(); err != nil {
		return nil, err
	}

	failed := a.evalChecks(world, blocks)
	if cancel.Cancelled() {
		return nil, datalog.NewError(datalog.TimeoutErr, "evaluation cancelled after %d iterations", world.Iterations())
	}
	matched := a.evalPolicies(world, authorizerID)

	switch {
	case matched == nil:
		return nil, &NoPoliciesMatchedError{Checks: failed}
	case matched.policy.Kind == ast.PolicyDeny:
		return nil, &DenyRuleMatchedError{Checks: failed, Policy: matched.policy}
	case len(failed) != 0:
		return nil, &FailedChecksError{Checks: failed}
	}

	a.logger.Debug("authorization succeeded with policy %v", matched.policy)
	return &Success{
		MatchedAllow: MatchedQuery{Query: matched.query, Bindings: matched.bindings},
		Facts:        world.Facts(),
		Limits:       a.limits,
		Context:      world.BlockContext(),
		world:        world,
		authorizerID: authorizerID,
	}, nil
}

// blocks returns every block in id order: authority, extras, then the
// authorizer's own block.
func (a *Authorizer) blocks() []ast.Block {
	blocks := make([]ast.Block, 0, len(a.extras)+2)
	blocks = append(blocks, a.authority.Block)
	for _, e := range a.extras {
		blocks = append(blocks, e.Block)
	}
	blocks = append(blocks, a.block)
	return blocks
}

// evalChecks evaluates every check of every block, even after a
// failure, so the caller receives the complete failed-check list.
func (a *Authorizer) evalChecks(world *datalog.World, blocks []ast.Block) []FailedCheck {
	timer := a.metrics.Timer(metrics.AuthorizerCheckEval)
	timer.Start()
	defer timer.Stop()

	var failed []FailedCheck
	for id, blk := range blocks {
		for _, chk := range blk.Checks {
			pass := false
			for _, q := range chk.Queries {
				if len(world.Query(id, blk.Scope, q)) != 0 {
					pass = true
					break
				}
			}
			if !pass {
				a.logger.Debug("check failed in block %d: %v", id, chk)
				a.traceEvent(datalog.CheckOp, chk, world.Iterations())
				failed = append(failed, FailedCheck{Block: id, Check: chk})
			}
		}
	}
	return failed
}

type matchedPolicy struct {
	policy   ast.Policy
	query    ast.Query
	bindings []datalog.Bindings
}

// evalPolicies evaluates the policies in order and returns the first
// one with a non-empty solution, or nil when none matches. Policy
// queries default to trusting every block.
func (a *Authorizer) evalPolicies(world *datalog.World, authorizerID int) *matchedPolicy {
	timer := a.metrics.Timer(metrics.AuthorizerPolicyEval)
	timer.Start()
	defer timer.Stop()

	for _, p := range a.policies {
		for _, q := range p.Queries {
			bindings := world.Query(authorizerID, nil, q)
			if len(bindings) != 0 {
				a.logger.Debug("policy matched with %d bindings: %v", len(bindings), p)
				a.traceEvent(datalog.PolicyOp, p, world.Iterations())
				return &matchedPolicy{policy: p, query: q, bindings: bindings}
			}
		}
	}
	return nil
}

func (a *Authorizer) traceEvent(op datalog.Op, node any, iteration int) {
	if a.tracer != nil && a.tracer.Enabled() {
		a.tracer.Trace(datalog.Event{Op: op, Node: node, Iteration: iteration})
	}
}

func revocationFact(block int, rid []byte) ast.Fact {
	return ast.MakeFact(RevocationFactName, ast.Integer(block), ast.Bytes(rid))
}

func waitForDone(ctx context.Context, exit chan struct{}, f func()) {
	select {
	case <-exit:
	case <-ctx.Done():
		f()
	}
}
