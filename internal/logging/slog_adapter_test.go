// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogHandlerRoutesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler)

	logger.Info("supervisor event", slog.String("service", "hub"))

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Errorf("message missing from output: %q", out)
	}
	if !strings.Contains(out, `"service":"hub"`) {
		t.Errorf("attribute missing from output: %q", out)
	}
}

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler)

	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("warn level missing: %q", out)
	}
	if !strings.Contains(out, `"level":"error"`) {
		t.Errorf("error level missing: %q", out)
	}
}

func TestSlogHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler).WithGroup("relay")

	logger.Info("grouped", slog.Int("clients", 3))

	if !strings.Contains(buf.String(), `"relay.clients":3`) {
		t.Errorf("group prefix missing: %q", buf.String())
	}
}

func TestSlogHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler).With(slog.String("component", "tree"))

	logger.Info("with attrs")

	if !strings.Contains(buf.String(), `"component":"tree"`) {
		t.Errorf("pre-configured attr missing: %q", buf.String())
	}
}
