// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package authorizer

import (
	"github.com/biscuit-auth/datalog"
	"github.com/biscuit-auth/datalog/ast"
)

// MatchedQuery is the query item that decided the verdict together
// with its solution set.
type MatchedQuery struct {
	Query    ast.Query
	Bindings []datalog.Bindings
}

// Success is the outcome of a successful authorization: every check
// passed and an allow policy matched.
type Success struct {
	// MatchedAllow is the allow-policy query that decided the verdict.
	MatchedAllow MatchedQuery

	// Facts is the final fact group after the fixpoint.
	Facts *datalog.FactGroup

	// Limits are the resource limits the evaluation ran under.
	Limits datalog.Limits

	// Context is the effective block context string, last writer wins.
	Context string

	world        *datalog.World
	authorizerID int
}

// Query runs an arbitrary query against the final world with the
// authorizer's trust, reading facts from every block.
func (s *Success) Query(q ast.Query) []datalog.Bindings {
	ids := make([]int, s.authorizerID+1)
	for i := range ids {
		ids[i] = i
	}
	return s.world.QueryWithin(datalog.NewOrigin(ids...), q)
}

// QueryAuthorityFacts runs a query against facts with origin {0}
// only. Facts contributed to or derived with any extra block never
// appear in the solutions.
func (s *Success) QueryAuthorityFacts(q ast.Query) []datalog.Bindings {
	return s.world.QueryWithin(datalog.NewOrigin(0), q)
}

// RevocationIDs returns each block's revocation identifier in block
// order, read back from the injected revocation facts.
func (s *Success) RevocationIDs() [][]byte {
	q := ast.Query{
		Body: []ast.Predicate{{
			Name:  RevocationFactName,
			Terms: []*ast.Term{ast.VarTerm("id"), ast.VarTerm("rid")},
		}},
	}
	bindings := s.world.QueryWithin(datalog.NewOrigin(s.authorizerID), q)

	out := make([][]byte, s.authorizerID)
	for _, b := range bindings {
		id, ok := b[ast.Var("id")].(ast.Integer)
		if !ok || int(id) < 0 || int(id) >= len(out) {
			continue
		}
		rid, ok := b[ast.Var("rid")].(ast.Bytes)
		if !ok {
			continue
		}
		out[id] = []byte(rid)
	}
	return out
}
