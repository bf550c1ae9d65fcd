// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.History.PageSize)
	assert.Equal(t, storage.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "User did not wrote any code", cfg.Prompt.NoCodeSentinel)
	assert.Equal(t, "UNKNOWN", cfg.Prompt.DefaultLanguage)
	assert.Empty(t, cfg.Model.Selected)
}

func TestLoadFromPath_MissingFileIsDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().History, cfg.History)
}

func TestLoadFromPath_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[model]
selected = "gemini_2.0_flash"

[keys]
"gemini_2.0_flash" = "g-key"

[prompt]
no_code_sentinel = "// nothing yet"

[history]
page_size = 25
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini_2.0_flash", cfg.Model.Selected)
	assert.Equal(t, "g-key", cfg.Keys["gemini_2.0_flash"])
	assert.Equal(t, "// nothing yet", cfg.Prompt.NoCodeSentinel)
	assert.Equal(t, 25, cfg.History.PageSize)
	// Untouched sections keep defaults.
	assert.Equal(t, Default().Provider.TimeoutSecs, cfg.Provider.TimeoutSecs)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "permissions are tightened on load")
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[history]\npage_size = -1\n[storage]\nbackend = \"redis\"\n"), 0o600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := []string{}
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.Contains(t, fields, "history.page_size")
	assert.Contains(t, fields, "storage.backend")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"unknown model", func(c *Config) { c.Model.Selected = "gpt-9" }, "model.selected"},
		{"key for unknown model", func(c *Config) { c.Keys["nope"] = "k" }, "keys.nope"},
		{"bad base url", func(c *Config) { c.Provider.GroqBaseURL = "ftp://x" }, "provider.groq_base_url"},
		{"zero timeout", func(c *Config) { c.Provider.TimeoutSecs = 0 }, "provider.timeout_secs"},
		{"negative rpm", func(c *Config) { c.Provider.RequestsPerMinute = -1 }, "provider.requests_per_minute"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad color", func(c *Config) { c.UI.Color = "rainbow" }, "ui.color"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_MODEL", "openai_4o")
	t.Setenv("WHISPER_STORE", "bolt")
	t.Setenv("WHISPER_NO_CODE_SENTINEL", "")
	t.Setenv("WHISPER_PAGE_SIZE", "5")
	t.Setenv("WHISPER_TIMEOUT", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "openai_4o", cfg.Model.Selected)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.Equal(t, "", cfg.Prompt.NoCodeSentinel, "an explicitly empty sentinel is honored")
	assert.Equal(t, 5, cfg.History.PageSize)
	assert.Equal(t, Default().Provider.TimeoutSecs, cfg.Provider.TimeoutSecs)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("history.page_size", "20"))
	v, err := cfg.Get("history.page_size")
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	require.NoError(t, cfg.Set("ui.markdown", "false"))
	assert.False(t, cfg.UI.Markdown)

	require.NoError(t, cfg.Set("server.allowed_origins", "https://a.example, https://b.example"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)

	assert.Error(t, cfg.Set("history.nope", "1"))
	assert.Error(t, cfg.Set("history", "1"))
	assert.Error(t, cfg.Set("keys.openai_4o", "sk"), "keys go through the key store")
	assert.Error(t, cfg.Set("history.page_size", "ten"))

	assert.Contains(t, AllKeys(), "prompt.no_code_sentinel")
}

func TestConfig_Derived(t *testing.T) {
	cfg := Default()
	cfg.Provider.GroqBaseURL = "http://localhost:9999/v1"
	cfg.Provider.TimeoutSecs = 5

	opts := cfg.ProviderOptions()
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, "http://localhost:9999/v1", opts.BaseURLs[provider.FamilyGroq])
	_, ok := opts.BaseURLs[provider.FamilyOpenAI]
	assert.False(t, ok)

	dir := t.TempDir()
	t.Setenv("WHISPER_HOME", dir)
	sc, err := cfg.StorageOptions()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "history.db"), sc.Path)

	assert.Equal(t, "127.0.0.1:8765", cfg.ServerAddr())
}

// =============================================================================
// KEY STORE
// =============================================================================

func TestKeyStore_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	keys := NewKeyStore(cfg, path)

	require.NoError(t, keys.SetSelection("claude_3.5_haiku"))
	require.NoError(t, keys.SetCredentials("claude_3.5_haiku", "  sk-ant-test  "))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := LoadFromPath(path)
	require.NoError(t, err)
	again := NewKeyStore(reloaded, path)
	assert.Equal(t, "claude_3.5_haiku", again.Selection())
	key, ok := again.Credentials("claude_3.5_haiku")
	assert.True(t, ok)
	assert.Equal(t, "sk-ant-test", key)
	assert.Equal(t, []string{"claude_3.5_haiku"}, again.Stored())

	require.NoError(t, again.SetCredentials("claude_3.5_haiku", ""))
	assert.Empty(t, again.Stored())
}

func TestKeyStore_DoesNotPersistEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("WHISPER_STORE", "memory")
	t.Setenv("WHISPER_PORT", "9999")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	require.NoError(t, NewKeyStore(cfg, path).SetCredentials("openai_4o", "sk-test"))

	onDisk, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Storage.Backend, onDisk.Storage.Backend)
	assert.Equal(t, Default().Server.Port, onDisk.Server.Port)
	assert.Equal(t, "sk-test", onDisk.Keys["openai_4o"])
}

func TestKeyStore_RejectsUnknownModel(t *testing.T) {
	keys := NewKeyStore(Default(), "")
	assert.Error(t, keys.SetSelection("gpt-9"))
	assert.Error(t, keys.SetCredentials("gpt-9", "k"))
	assert.Empty(t, keys.Selection())
}

func TestKeyStore_EnvFallback(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-env")
	keys := NewKeyStore(Default(), "")

	key, ok := keys.Credentials("groq_llama_3.3_70b")
	assert.True(t, ok)
	assert.Equal(t, "gsk-env", key)

	require.NoError(t, keys.SetCredentials("groq_llama_3.3_70b", "gsk-stored"))
	key, _ = keys.Credentials("groq_llama_3.3_70b")
	assert.Equal(t, "gsk-stored", key, "stored keys win")

	_, ok = keys.Credentials("openai_4o")
	if os.Getenv("OPENAI_API_KEY") == "" {
		assert.False(t, ok)
	}
}

// =============================================================================
// GLOBAL
// =============================================================================

func TestConfig_GlobalConcurrentAccess(t *testing.T) {
	t.Setenv("WHISPER_HOME", t.TempDir())
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	seen := make([]*Config, 20)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = Global()
		}(i)
	}
	wg.Wait()
	for _, c := range seen {
		assert.Same(t, seen[0], c)
	}

	replacement := Default()
	SetGlobal(replacement)
	assert.Same(t, replacement, Global())
}
