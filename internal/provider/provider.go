// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"time"

	"github.com/jeranaias/whisper/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds a single generate request.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the default response body limit.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// DefaultMaxTokens is sent to providers that require an output limit.
	DefaultMaxTokens = 1024

	// DefaultUserAgent identifies outgoing requests.
	DefaultUserAgent = "whisper/0.3.0"
)

// DefaultBaseURLs are the public API endpoints per family.
var DefaultBaseURLs = map[Family]string{
	FamilyOpenAI:    "https://api.openai.com/v1",
	FamilyGroq:      "https://api.groq.com/openai/v1",
	FamilyGemini:    "https://generativelanguage.googleapis.com/v1beta",
	FamilyAnthropic: "https://api.anthropic.com/v1",
}

// =============================================================================
// ADAPTER INTERFACE
// =============================================================================

// Request is one generation call.
type Request struct {
	// SystemPrompt is the fully substituted system instruction.
	SystemPrompt string

	// UserPrompt is the new user turn.
	UserPrompt string

	// History holds the prior conversation, oldest first, excluding UserPrompt.
	History []model.ChatMessage
}

// Result is the outcome of Generate: text on success, Err otherwise.
type Result struct {
	Text string
	Err  *Error
}

// OK reports whether generation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

func success(text string) Result { return Result{Text: text} }

func failure(err *Error) Result { return Result{Err: err} }

// Adapter is a configured connection to one provider.
type Adapter interface {
	// Configure selects the model and key. It fails with a KindConfiguration
	// error for unknown models or an empty key and never touches the network.
	Configure(modelID, apiKey string) error

	// Generate sends one request and reports the outcome.
	Generate(ctx context.Context, req Request) Result
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configure HTTP behavior shared by all adapters.
type Options struct {
	// BaseURLs override DefaultBaseURLs per family.
	BaseURLs map[Family]string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxResponseBytes limits response bodies. Zero means MaxResponseSize.
	MaxResponseBytes int64

	// RequestsPerMinute paces requests per adapter. Zero disables pacing.
	RequestsPerMinute int

	// MaxTokens is the output limit for families that require one.
	MaxTokens int

	// UserAgent is sent with each request.
	UserAgent string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Timeout:          DefaultTimeout,
		MaxResponseBytes: MaxResponseSize,
		MaxTokens:        DefaultMaxTokens,
		UserAgent:        DefaultUserAgent,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = MaxResponseSize
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// baseURL returns the configured endpoint for f.
func (o Options) baseURL(f Family) string {
	if u, ok := o.BaseURLs[f]; ok && u != "" {
		return u
	}
	return DefaultBaseURLs[f]
}

// historyText flattens a history message for the wire.
func historyText(m model.ChatMessage) string {
	return m.Text()
}
