// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package executor

import "strings"

// ParseProperties parses a flat key=value property blob, one property
// per line. Blank lines and lines starting with "#" are skipped; a
// line without "=" becomes a key with an empty value.
func ParseProperties(data []byte) map[string]string {
	props := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) == 2 {
			props[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		} else {
			props[line] = ""
		}
	}
	return props
}
