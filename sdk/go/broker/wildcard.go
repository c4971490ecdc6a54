// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package broker

import "strings"

// WildcardMatch reports whether subject matches the glob-style
// pattern. "*" matches any run of characters (including none); all
// other characters match themselves, case-sensitively. A pattern
// without "*" requires exact equality.
func WildcardMatch(pattern, subject string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return subject == pattern
	}
	if !strings.HasPrefix(subject, parts[0]) {
		return false
	}
	subject = subject[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		i := strings.Index(subject, mid)
		if i < 0 {
			return false
		}
		subject = subject[i+len(mid):]
	}
	return strings.HasSuffix(subject, last)
}
