// Copyright 2024 The Biscuit Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package authorizer

import (
	"fmt"
	"strings"

	"github.com/biscuit-auth/datalog/ast"
)

// FailedCheck identifies one check that did not pass, together with
// the id of the block carrying it.
type FailedCheck struct {
	Block int       `json:"block"`
	Check ast.Check `json:"check"`
}

func (f FailedCheck) String() string {
	return fmt.Sprintf("block %d: %v", f.Block, f.Check)
}

// FailedChecksError reports that an allow policy matched but one or
// more checks did not pass.
type FailedChecksError struct {
	Checks []FailedCheck
}

func (e *FailedChecksError) Error() string {
	return "authorization failed: " + renderFailed(e.Checks)
}

// NoPoliciesMatchedError reports that no policy had a solution. The
// failed-check list may be empty.
type NoPoliciesMatchedError struct {
	Checks []FailedCheck
}

func (e *NoPoliciesMatchedError) Error() string {
	msg := "authorization failed: no policy matched"
	if len(e.Checks) != 0 {
		msg += "; " + renderFailed(e.Checks)
	}
	return msg
}

// DenyRuleMatchedError reports that a deny policy decided the
// verdict. The failed-check list may be empty.
type DenyRuleMatchedError struct {
	Checks []FailedCheck
	Policy ast.Policy
}

func (e *DenyRuleMatchedError) Error() string {
	msg := fmt.Sprintf("authorization failed: policy matched: %v", e.Policy)
	if len(e.Checks) != 0 {
		msg += "; " + renderFailed(e.Checks)
	}
	return msg
}

func renderFailed(checks []FailedCheck) string {
	buf := make([]string, len(checks))
	for i, c := range checks {
		buf[i] = c.String()
	}
	return fmt.Sprintf("the following checks failed: [%s]", strings.Join(buf, ", "))
}
