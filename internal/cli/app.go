// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/config"
	"github.com/jeranaias/whisper/internal/conversation"
	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/prompt"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/storage"
)

// App holds the flags and lazily opened resources shared by commands.
type App struct {
	configPath string
	verbose    bool
	topic      string
	storeName  string
	color      string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg     *config.Config
	cfgPath string
	keys    *config.KeyStore
	store   storage.Store
	router  *provider.Router
}

func newApp() *App {
	return &App{}
}

// runE wraps a command body so opened resources are released afterwards.
func (a *App) runE(fn func(ctx context.Context, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close()
		return fn(cmd.Context(), args)
	}
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Warn("close history store: %v", err)
		}
		a.store = nil
	}
}

// =============================================================================
// RESOURCES
// =============================================================================

func (a *App) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	path, err := a.resolvedConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	a.cfg, a.cfgPath = cfg, path
	return cfg, nil
}

func (a *App) keyStore() (*config.KeyStore, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	a.keys = config.NewKeyStore(cfg, a.cfgPath)
	return a.keys, nil
}

// openStore opens the configured backend. --store overrides the backend
// for this run only and uses that backend's default location.
func (a *App) openStore() (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	effective := *cfg
	if name := strings.ToLower(strings.TrimSpace(a.storeName)); name != "" {
		if !validBackend(name) {
			return nil, NewValidationErrorWithExample("store", a.storeName, "unknown backend",
				"--store "+strings.Join(storage.Backends, "|"))
		}
		effective.Storage = config.StorageConfig{Backend: name}
	}
	sc, err := effective.StorageOptions()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc)
	if err != nil {
		return nil, WrapError(err, "open history")
	}
	logging.Debug("cli: history backend %s at %s", sc.Backend, sc.Path)
	a.store = store
	return store, nil
}

func validBackend(name string) bool {
	for _, b := range storage.Backends {
		if b == name {
			return true
		}
	}
	return false
}

func (a *App) modelRouter() (*provider.Router, error) {
	if a.router != nil {
		return a.router, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	a.router = provider.NewRouter(cfg.ProviderOptions())
	return a.router, nil
}

// serviceOptions are the conversation options derived from config.
func (a *App) serviceOptions() ([]conversation.Option, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	keys, err := a.keyStore()
	if err != nil {
		return nil, err
	}
	tmpl, err := prompt.LoadTemplate(cfg.Prompt.TemplateFile)
	if err != nil {
		return nil, err
	}
	if missing := prompt.Missing(tmpl); len(missing) > 0 {
		logging.Warn("prompt template %s has no %s", cfg.Prompt.TemplateFile, strings.Join(missing, ", "))
	}
	return []conversation.Option{
		conversation.WithKeyStore(keys),
		conversation.WithTemplate(tmpl),
		conversation.WithNoCodeSentinel(cfg.Prompt.NoCodeSentinel),
		conversation.WithDefaultLanguage(cfg.Prompt.DefaultLanguage),
		conversation.WithPageSize(cfg.History.PageSize),
	}, nil
}

// service opens topic on a new conversation service.
func (a *App) service(ctx context.Context, topic string, extra ...conversation.Option) (*conversation.Service, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	router, err := a.modelRouter()
	if err != nil {
		return nil, err
	}
	opts, err := a.serviceOptions()
	if err != nil {
		return nil, err
	}
	svc := conversation.NewService(router, store, append(opts, extra...)...)
	if err := svc.Open(ctx, topic); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// resolveTopic picks the topic from --topic, then the problem file name.
func (a *App) resolveTopic(problemFile string) string {
	return topicFor(a.topic, problemFile)
}

func topicFor(flag, problemFile string) string {
	if t := strings.TrimSpace(flag); t != "" {
		if strings.Contains(t, "://") {
			return hostctx.TopicFromURL(t)
		}
		return t
	}
	if problemFile != "" {
		base := filepath.Base(problemFile)
		if t := strings.TrimSuffix(base, filepath.Ext(base)); t != "" {
			return t
		}
	}
	return hostctx.UnknownTopic
}

func (a *App) renderer() (*Renderer, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	setting := cfg.UI.Color
	if a.color != "" {
		switch a.color {
		case "auto", "always", "never":
		default:
			return nil, NewValidationErrorWithExample("color", a.color, "must be auto, always or never", "--color never")
		}
		setting = a.color
	}
	return NewRenderer(a.out, useColor(setting, a.out), cfg.UI.Markdown), nil
}
