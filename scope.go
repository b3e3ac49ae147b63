// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datalog

import (
	"github.com/biscuit-auth/datalog/ast"
)

// scopeEnv resolves symbolic scope elements against the public-key
// identities of a token's blocks. keys holds one entry per block id:
// nil for the authority block (id 0) and for the authorizer's own
// block (the last id), the signing key for every extra block.
type scopeEnv struct {
	keys []ast.PublicKey
}

// authorizerID returns the block id of the authorizer's own block.
func (e scopeEnv) authorizerID() int {
	return len(e.keys) - 1
}

// blockCount returns the total number of blocks, authorizer included.
func (e scopeEnv) blockCount() int {
	return len(e.keys)
}

// all returns the origin containing every block id.
func (e scopeEnv) all() Origin {
	o := Origin{}
	for i := range e.keys {
		o = o.Insert(i)
	}
	return o
}

// resolveElement translates one symbolic scope element into a concrete
// block-id set.
func (e scopeEnv) resolveElement(s ast.Scope, owner int) Origin {
	switch s.Kind {
	case ast.ScopeAuthority:
		return NewOrigin(0)
	case ast.ScopePrevious:
		o := Origin{}
		for i := 0; i < owner; i++ {
			o = o.Insert(i)
		}
		return o
	default:
		o := Origin{}
		for i, pk := range e.keys {
			if pk != nil && pk.Equal(s.PublicKey) {
				o = o.Insert(i)
			}
		}
		return o
	}
}

// resolve computes the permitted set for a rule, check or policy owned
// by the given block. The owner's own block and the authorizer's block
// are always trusted; the declared scopes (falling back to the
// enclosing block's default scope) contribute the rest. With no scopes
// at all, a block rule sees authority plus itself, and an authorizer
// rule sees every block.
func (e scopeEnv) resolve(scopes []ast.Scope, blockDefault []ast.Scope, owner int) TrustedOrigins {
	if len(scopes) == 0 {
		scopes = blockDefault
	}

	trusted := NewOrigin(owner, e.authorizerID())

	if len(scopes) == 0 {
		if owner == e.authorizerID() {
			return TrustedOrigins{origin: e.all()}
		}
		return TrustedOrigins{origin: trusted.Insert(0)}
	}

	for _, s := range scopes {
		trusted = trusted.Union(e.resolveElement(s, owner))
	}
	return TrustedOrigins{origin: trusted}
}
