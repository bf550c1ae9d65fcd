// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelWarn)

	SetVerbose(false)
	Debug("hidden %d", 1)
	Info("hidden too")
	Warn("shown %s", "warn")
	Error("shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn")
	assert.Contains(t, out, "[ERROR] shown error")

	buf.Reset()
	SetVerbose(true)
	Debug("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")
	assert.Equal(t, LevelDebug, CurrentLevel())
}
