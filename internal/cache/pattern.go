// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package cache

import "strings"

// MatchPattern reports whether key matches an invalidation pattern.
//
// The grammar is deliberately small — feature code builds hierarchical keys
// like "chat:42:messages:0" and invalidates them with prefix patterns:
//
//	"*"                  matches every key
//	"chat:42:messages:*" matches keys with the prefix "chat:42:messages:"
//	"chat:42:meta"       matches exactly that key
//
// A "*" is only a wildcard in the trailing position; anywhere else it is a
// literal character of the key.
func MatchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}

	return pattern == key
}
