// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&WildcardSuite{})

type WildcardSuite struct{}

func (s *WildcardSuite) TestMatch(c *check.C) {
	for _, trial := range []struct {
		pattern string
		subject string
		match   bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"rack*", "rack1", true},
		{"rack*", "rack-east", true},
		{"rack*", "dc1", false},
		{"*1", "rack1", true},
		{"*1", "rack2", false},
		{"slave*", "slave-01", true},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "acb", false},
		{"a*b", "ab", true},
		{"a*a", "a", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"Rack*", "rack1", false}, // case-sensitive
	} {
		c.Check(WildcardMatch(trial.pattern, trial.subject), check.Equals, trial.match,
			check.Commentf("pattern %q subject %q", trial.pattern, trial.subject))
	}
}
