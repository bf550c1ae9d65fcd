// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/prompt"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
	"github.com/jeranaias/whisper/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete whisper configuration.
type Config struct {
	Version string `toml:"version"`

	Model    ModelConfig       `toml:"model"`
	Keys     map[string]string `toml:"keys"`
	Provider ProviderConfig    `toml:"provider"`
	Storage  StorageConfig     `toml:"storage"`
	Prompt   PromptConfig      `toml:"prompt"`
	History  HistoryConfig     `toml:"history"`
	Server   ServerConfig      `toml:"server"`
	UI       UIConfig          `toml:"ui"`
}

// ModelConfig holds the model selection.
type ModelConfig struct {
	// Selected is a catalog model ID, e.g. "openai_4o". Empty until chosen.
	Selected string `toml:"selected"`
}

// ProviderConfig tunes the HTTP adapters.
type ProviderConfig struct {
	OpenAIBaseURL    string `toml:"openai_base_url"`
	GroqBaseURL      string `toml:"groq_base_url"`
	GeminiBaseURL    string `toml:"gemini_base_url"`
	AnthropicBaseURL string `toml:"anthropic_base_url"`

	// TimeoutSecs bounds each request.
	TimeoutSecs int `toml:"timeout_secs"`

	// RequestsPerMinute paces requests (0 = unpaced).
	RequestsPerMinute int `toml:"requests_per_minute"`

	MaxResponseBytes int64 `toml:"max_response_bytes"`
	MaxTokens        int   `toml:"max_tokens"`
}

// StorageConfig selects the history backend.
type StorageConfig struct {
	// Backend is one of: memory, file, sqlite, bolt
	Backend string `toml:"backend"`
	// Path overrides the backend's default location under the config dir
	Path string `toml:"path"`
}

// PromptConfig controls system prompt construction.
type PromptConfig struct {
	// TemplateFile replaces the built-in template when set.
	TemplateFile string `toml:"template_file"`
	// NoCodeSentinel is substituted when the user has written no code.
	NoCodeSentinel string `toml:"no_code_sentinel"`
	// DefaultLanguage is substituted when the editor language is unknown.
	DefaultLanguage string `toml:"default_language"`
}

// HistoryConfig controls history paging.
type HistoryConfig struct {
	PageSize int `toml:"page_size"`
}

// ServerConfig configures the local bridge server.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// UIConfig contains terminal rendering settings.
type UIConfig struct {
	// Markdown renders feedback through glamour.
	Markdown bool `toml:"markdown"`
	// Color is "auto", "always" or "never".
	Color string `toml:"color"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Keys:    map[string]string{},
		Provider: ProviderConfig{
			TimeoutSecs:      int(provider.DefaultTimeout / time.Second),
			MaxResponseBytes: provider.MaxResponseSize,
			MaxTokens:        provider.DefaultMaxTokens,
		},
		Storage: StorageConfig{
			Backend: storage.BackendSQLite,
		},
		Prompt: PromptConfig{
			NoCodeSentinel:  prompt.DefaultNoCodeSentinel,
			DefaultLanguage: prompt.DefaultLanguage,
		},
		History: HistoryConfig{
			PageSize: 10,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
			AllowedOrigins: []string{
				"chrome-extension://*",
				"https://leetcode.com",
				"https://maang.in",
			},
		},
		UI: UIConfig{
			Markdown: true,
			Color:    "auto",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the whisper configuration directory path.
// WHISPER_HOME overrides ~/.whisper.
func ConfigDir() (string, error) {
	if dir := os.Getenv("WHISPER_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".whisper"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file holding API keys to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default path. A missing file yields
// defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file. A missing
// file yields defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile is LoadFromPath without environment overrides. Use it for a
// config that will be written back, so overrides are not persisted.
func LoadFile(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			logging.Warn("could not ensure secure permissions on %s: %v", path, err)
		}
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			logging.Warn("config: ignoring unknown keys in %s: %v", path, undecoded)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to the default path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg atomically with mode 0600 since it holds API keys.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# whisper configuration file\n")
	buf.WriteString("# API keys below are stored in plain text; keep this file private.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0o600, 0o700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// ProviderOptions converts the provider section to adapter options.
func (c *Config) ProviderOptions() provider.Options {
	opts := provider.DefaultOptions()
	opts.Timeout = time.Duration(c.Provider.TimeoutSecs) * time.Second
	opts.RequestsPerMinute = c.Provider.RequestsPerMinute
	opts.MaxResponseBytes = c.Provider.MaxResponseBytes
	opts.MaxTokens = c.Provider.MaxTokens
	opts.BaseURLs = map[provider.Family]string{}
	for f, u := range map[provider.Family]string{
		provider.FamilyOpenAI:    c.Provider.OpenAIBaseURL,
		provider.FamilyGroq:      c.Provider.GroqBaseURL,
		provider.FamilyGemini:    c.Provider.GeminiBaseURL,
		provider.FamilyAnthropic: c.Provider.AnthropicBaseURL,
	} {
		if u != "" {
			opts.BaseURLs[f] = u
		}
	}
	return opts
}

// StorageOptions resolves the storage section, filling the default path.
func (c *Config) StorageOptions() (storage.Config, error) {
	sc := storage.Config{Backend: c.Storage.Backend, Path: c.Storage.Path}
	if sc.Path == "" && sc.Backend != storage.BackendMemory {
		dir, err := ConfigDir()
		if err != nil {
			return storage.Config{}, err
		}
		sc.Path = storage.DefaultPath(sc.Backend, dir)
	}
	return sc, nil
}

// ServerAddr returns host:port for the bridge.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Model.Selected != "" {
		if _, ok := provider.Lookup(c.Model.Selected); !ok {
			add("model.selected", "unknown model '%s'", c.Model.Selected)
		}
	}
	for id := range c.Keys {
		if _, ok := provider.Lookup(id); !ok {
			add("keys."+id, "no such model")
		}
	}

	for field, raw := range map[string]string{
		"provider.openai_base_url":    c.Provider.OpenAIBaseURL,
		"provider.groq_base_url":      c.Provider.GroqBaseURL,
		"provider.gemini_base_url":    c.Provider.GeminiBaseURL,
		"provider.anthropic_base_url": c.Provider.AnthropicBaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(field, "invalid URL '%s', must be http(s)://host[/path]", raw)
		}
	}
	if c.Provider.TimeoutSecs < 1 || c.Provider.TimeoutSecs > 600 {
		add("provider.timeout_secs", "must be between 1 and 600, got %d", c.Provider.TimeoutSecs)
	}
	if c.Provider.RequestsPerMinute < 0 {
		add("provider.requests_per_minute", "must not be negative")
	}
	if c.Provider.MaxResponseBytes < 1024 {
		add("provider.max_response_bytes", "must be at least 1024, got %d", c.Provider.MaxResponseBytes)
	}
	if c.Provider.MaxTokens < 1 {
		add("provider.max_tokens", "must be positive, got %d", c.Provider.MaxTokens)
	}

	validBackend := false
	for _, b := range storage.Backends {
		if strings.EqualFold(c.Storage.Backend, b) {
			validBackend = true
		}
	}
	if !validBackend {
		add("storage.backend", "invalid backend '%s', must be one of: %s", c.Storage.Backend, strings.Join(storage.Backends, ", "))
	}

	if c.History.PageSize < 1 || c.History.PageSize > 500 {
		add("history.page_size", "must be between 1 and 500, got %d", c.History.PageSize)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		add("server.host", "must not be empty")
	}

	switch strings.ToLower(c.UI.Color) {
	case "auto", "always", "never":
	default:
		add("ui.color", "invalid value '%s', must be one of: auto, always, never", c.UI.Color)
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Keys == nil {
		c.Keys = map[string]string{}
	}
	if c.Provider.TimeoutSecs == 0 {
		c.Provider.TimeoutSecs = d.Provider.TimeoutSecs
	}
	if c.Provider.MaxResponseBytes == 0 {
		c.Provider.MaxResponseBytes = d.Provider.MaxResponseBytes
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = d.Provider.MaxTokens
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Prompt.DefaultLanguage == "" {
		c.Prompt.DefaultLanguage = d.Prompt.DefaultLanguage
	}
	if c.History.PageSize == 0 {
		c.History.PageSize = d.History.PageSize
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.UI.Color == "" {
		c.UI.Color = d.UI.Color
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies WHISPER_* environment variables:
//   - WHISPER_MODEL: overrides model.selected
//   - WHISPER_STORE: overrides storage.backend
//   - WHISPER_STORE_PATH: overrides storage.path
//   - WHISPER_NO_CODE_SENTINEL: overrides prompt.no_code_sentinel
//   - WHISPER_TIMEOUT: overrides provider.timeout_secs
//   - WHISPER_PORT: overrides server.port
//   - WHISPER_PAGE_SIZE: overrides history.page_size
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		c.Model.Selected = v
	}
	if v := os.Getenv("WHISPER_STORE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("WHISPER_STORE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v, ok := os.LookupEnv("WHISPER_NO_CODE_SENTINEL"); ok {
		c.Prompt.NoCodeSentinel = v
	}
	envInt("WHISPER_TIMEOUT", &c.Provider.TimeoutSecs)
	envInt("WHISPER_PORT", &c.Server.Port)
	envInt("WHISPER_PAGE_SIZE", &c.History.PageSize)
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("config: ignoring %s=%q: not an integer", name, v)
		return
	}
	*dst = n
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value using dot notation (e.g., "history.page_size").
// Keys are not reachable here; use KeyStore.
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a value using dot notation, converting strings to the field type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) < 2 || parts[0] == "keys" {
		return reflect.Value{}, fmt.Errorf("unknown field: %s", key)
	}
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
	}
	return v, nil
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// AllKeys returns every settable key in dot notation.
func AllKeys() []string {
	var keys []string
	v := reflect.ValueOf(Default()).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		if section.Type.Kind() != reflect.Struct {
			continue
		}
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. Load failures fall back to defaults with a warning.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			logging.Warn("%v (using defaults)", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
