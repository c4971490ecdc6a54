// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Period is a duration that looks like "10s" in JSON: an integer
// followed by one of the units s, m, h, d. "0" is the zero period.
// The original value/unit pair is preserved so a Period prints the
// way it was written.
type Period struct {
	value int64
	unit  byte
}

// ParsePeriod parses a duration string like "10s", "5m", "1h", "2d",
// or "0".
func ParsePeriod(s string) (Period, error) {
	if s == "0" {
		return Period{}, nil
	}
	if len(s) < 2 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	unit := s[len(s)-1]
	switch unit {
	case 's', 'm', 'h', 'd':
	default:
		return Period{}, fmt.Errorf("invalid period %q: unknown unit %q", s, string(unit))
	}
	value, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || value < 0 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	return Period{value: value, unit: unit}, nil
}

// MustParsePeriod is ParsePeriod, but panics on invalid input.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Duration returns the period as a time.Duration.
func (p Period) Duration() time.Duration {
	switch p.unit {
	case 's':
		return time.Duration(p.value) * time.Second
	case 'm':
		return time.Duration(p.value) * time.Minute
	case 'h':
		return time.Duration(p.value) * time.Hour
	case 'd':
		return time.Duration(p.value) * 24 * time.Hour
	default:
		return 0
	}
}

// String implements fmt.Stringer.
func (p Period) String() string {
	if p.unit == 0 {
		return "0"
	}
	return strconv.FormatInt(p.value, 10) + string(p.unit)
}

// MarshalJSON implements json.Marshaler.
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("period must be given as a string like \"10s\" or \"1h\"")
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
