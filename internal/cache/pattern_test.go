// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package cache

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"chat:1:messages:*", "chat:1:messages:0", true},
		{"chat:1:messages:*", "chat:1:messages:12", true},
		{"chat:1:messages:*", "chat:2:messages:0", false},
		{"chat:1:*", "chat:1:meta", true},
		{"chat:1:*", "chat:10:meta", false},
		{"post:7", "post:7", true},
		{"post:7", "post:77", false},
		{"post:7", "post:7:reactions", false},
		// "*" is only a wildcard in trailing position.
		{"chat:*:meta", "chat:1:meta", false},
		{"chat:*:meta", "chat:*:meta", true},
		{"", "", true},
		{"", "key", false},
	}

	for _, tc := range cases {
		if got := MatchPattern(tc.pattern, tc.key); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}
