// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jeranaias/whisper/internal/model"
)

// AnthropicVersion is the API version header value.
const AnthropicVersion = "2023-06-01"

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicAdapter speaks the messages protocol. The system prompt is a
// top-level field rather than a message.
type AnthropicAdapter struct {
	*session
	opts Options
	t    *transport
}

// NewAnthropicAdapter creates an unconfigured Anthropic adapter.
func NewAnthropicAdapter(opts Options) *AnthropicAdapter {
	return &AnthropicAdapter{
		session: newSession(FamilyAnthropic),
		opts:    opts.withDefaults(),
		t:       newTransport(FamilyAnthropic, opts),
	}
}

// Configure implements Adapter.
func (a *AnthropicAdapter) Configure(modelID, apiKey string) error {
	return a.session.configure(modelID, apiKey)
}

// Generate implements Adapter.
func (a *AnthropicAdapter) Generate(ctx context.Context, req Request) Result {
	info, key, cerr := a.current()
	if cerr != nil {
		return failure(cerr)
	}

	body := anthropicRequest{
		Model:     info.Wire,
		System:    req.SystemPrompt,
		MaxTokens: a.opts.MaxTokens,
	}
	for _, m := range req.History {
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "assistant"
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: historyText(m)})
	}
	body.Messages = append(body.Messages, anthropicMessage{Role: "user", Content: req.UserPrompt})

	header := http.Header{}
	header.Set("x-api-key", key)
	header.Set("anthropic-version", AnthropicVersion)

	endpoint := strings.TrimSuffix(a.opts.baseURL(FamilyAnthropic), "/") + "/messages"
	data, status, nerr := a.t.post(ctx, endpoint, header, body, key)
	if nerr != nil {
		return failure(nerr)
	}

	if status != http.StatusOK {
		var apiErr anthropicErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return failure(statusError(status, apiErr.Error.Type, apiErr.Error.Message))
	}

	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return failure(&Error{Kind: KindProvider, Message: "invalid response from provider", Status: status, Cause: err})
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return failure(&Error{Kind: KindProvider, Message: "provider returned no content", Code: resp.StopReason, Status: status, Cause: ErrEmptyResponse})
	}
	return success(b.String())
}
