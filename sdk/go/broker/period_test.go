// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&PeriodSuite{})

type PeriodSuite struct{}

func (s *PeriodSuite) TestParse(c *check.C) {
	for _, trial := range []struct {
		in  string
		dur time.Duration
	}{
		{"0", 0},
		{"10s", 10 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"2d", 48 * time.Hour},
		{"90s", 90 * time.Second},
	} {
		p, err := ParsePeriod(trial.in)
		c.Check(err, check.IsNil)
		c.Check(p.Duration(), check.Equals, trial.dur)
		c.Check(p.String(), check.Equals, trial.in)
	}
}

func (s *PeriodSuite) TestParseInvalid(c *check.C) {
	for _, in := range []string{"", "s", "10", "10x", "-1s", "1.5s", "10 s", "ten s"} {
		_, err := ParsePeriod(in)
		c.Check(err, check.NotNil, check.Commentf("input %q", in))
	}
}

func (s *PeriodSuite) TestJSON(c *check.C) {
	buf, err := json.Marshal(MustParsePeriod("30s"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, `"30s"`)

	var p Period
	c.Assert(json.Unmarshal([]byte(`"2d"`), &p), check.IsNil)
	c.Check(p.Duration(), check.Equals, 48*time.Hour)

	c.Check(json.Unmarshal([]byte(`600`), &p), check.NotNil)
	c.Check(json.Unmarshal([]byte(`"600q"`), &p), check.NotNil)
}
