// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a.json")

	require.NoError(t, AtomicWriteFile(path, []byte("one"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunes("hello", 5))
	assert.Equal(t, "he...", TruncateRunes("hello world", 5))
	assert.Equal(t, "日本", TruncateRunes("日本語", 2))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestTruncateWidth(t *testing.T) {
	assert.Equal(t, "abc", TruncateWidth("abc", 10))
	// Each CJK rune is two columns wide.
	assert.Equal(t, 6, StringWidth("日本語"))
	got := TruncateWidth("日本語日本語", 7)
	assert.LessOrEqual(t, StringWidth(got), 7)
	assert.Contains(t, got, "...")
}

func TestSingleLine(t *testing.T) {
	assert.Equal(t, "a b c", SingleLine("  a\n b\t\tc  "))
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "two-sum", SafeFileName("two-sum"))

	a := SafeFileName("a/b")
	b := SafeFileName("a?b")
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "/")

	assert.NotEmpty(t, SafeFileName(""))
	assert.NotEqual(t, "..", SafeFileName(".."))
}
