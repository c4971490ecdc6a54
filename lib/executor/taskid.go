// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package executor

import (
	"fmt"
	"strings"
)

// IDFromTaskID extracts the broker id from a task id formatted as
// "broker-<id>-<uuid>".
func IDFromTaskID(taskID string) (string, error) {
	parts := strings.Split(taskID, "-")
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return parts[1], nil
}
