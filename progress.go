// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"strconv"
)

// progressKeys are tried in order when extracting a progress value from
// chunk metadata. The first key holding a usable value wins.
var progressKeys = [...]string{"progress", "progressPercentage", "percentage"}

// ExtractProgress pulls a numeric progress value out of chunk metadata.
// Numeric values and numeric strings are both accepted; anything else is
// skipped. The result is clamped to [0, 100]. The second return value is
// false when no key holds a usable value.
func ExtractProgress(metadata map[string]any) (int, bool) {
	if metadata == nil {
		return 0, false
	}
	for _, key := range progressKeys {
		value, ok := metadata[key]
		if !ok {
			continue
		}
		if progress, ok := coerceProgress(value); ok {
			return ClampProgress(progress), true
		}
	}
	return 0, false
}

func coerceProgress(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}
