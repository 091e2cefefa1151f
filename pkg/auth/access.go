// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package auth

import (
	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
)

// CanViewSuite reports whether a principal may read a suite: public suites
// are open, private ones are limited to their owner and platform admins.
func CanViewSuite(p *Principal, suite *meta.TestSuite) bool {
	if p.IsPlatformAdmin {
		return true
	}
	return suite.Visibility == meta.VisibilityPublic || suite.Owner == p.Subject()
}

// RequireSuiteAccess is CanViewSuite as an error.
func RequireSuiteAccess(p *Principal, suite *meta.TestSuite) error {
	if CanViewSuite(p, suite) {
		return nil
	}
	return fault.Newf(fault.Unauthorized, "no access to suite %s", suite.ID)
}

// CanAccessRun limits run access to the creator and platform admins. Runs
// recorded without a creator predate the ownership columns and stay open.
func CanAccessRun(p *Principal, run *meta.TestRun) bool {
	if p.IsPlatformAdmin || run.CreatedBy == "" {
		return true
	}
	return run.CreatedBy == p.Subject()
}

// RequireRunAccess is CanAccessRun as an error.
func RequireRunAccess(p *Principal, run *meta.TestRun) error {
	if CanAccessRun(p, run) {
		return nil
	}
	return fault.Newf(fault.Unauthorized, "no access to run %s", run.ID)
}

// CanAccessEnvironment limits environment mutation to the creator and
// platform admins.
func CanAccessEnvironment(p *Principal, env *meta.RuntimeEnvironment) bool {
	if p.IsPlatformAdmin || env.CreatedBy == "" {
		return true
	}
	return env.CreatedBy == p.Subject()
}

// RequireEnvironmentAccess is CanAccessEnvironment as an error.
func RequireEnvironmentAccess(p *Principal, env *meta.RuntimeEnvironment) error {
	if CanAccessEnvironment(p, env) {
		return nil
	}
	return fault.Newf(fault.Unauthorized, "no access to environment %s", env.ID)
}
