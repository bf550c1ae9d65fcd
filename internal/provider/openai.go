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

// =============================================================================
// WIRE TYPES
// =============================================================================

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// OpenAIAdapter speaks the chat completions protocol. It serves the openai
// and groq families, which differ only in base URL.
type OpenAIAdapter struct {
	*session
	opts       Options
	transports map[Family]*transport
}

// NewOpenAIAdapter creates an unconfigured OpenAI-compatible adapter.
func NewOpenAIAdapter(opts Options) *OpenAIAdapter {
	return &OpenAIAdapter{
		session: newSession(FamilyOpenAI, FamilyGroq),
		opts:    opts,
		transports: map[Family]*transport{
			FamilyOpenAI: newTransport(FamilyOpenAI, opts),
			FamilyGroq:   newTransport(FamilyGroq, opts),
		},
	}
}

// Configure implements Adapter.
func (a *OpenAIAdapter) Configure(modelID, apiKey string) error {
	return a.session.configure(modelID, apiKey)
}

// Generate implements Adapter.
func (a *OpenAIAdapter) Generate(ctx context.Context, req Request) Result {
	info, key, cerr := a.current()
	if cerr != nil {
		return failure(cerr)
	}

	body := openAIRequest{
		Model:    info.Wire,
		Messages: openAIMessages(req),
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+key)

	endpoint := strings.TrimSuffix(a.opts.baseURL(info.Family), "/") + "/chat/completions"
	data, status, nerr := a.transports[info.Family].post(ctx, endpoint, header, body, key)
	if nerr != nil {
		return failure(nerr)
	}

	if status != http.StatusOK {
		var apiErr openAIErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		code := apiErr.Error.Type
		if c := strings.Trim(string(apiErr.Error.Code), `"`); c != "" && c != "null" {
			code = c
		}
		return failure(statusError(status, code, apiErr.Error.Message))
	}

	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return failure(&Error{Kind: KindProvider, Message: "invalid response from provider", Status: status, Cause: err})
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return failure(&Error{Kind: KindProvider, Message: "provider returned no content", Status: status, Cause: ErrEmptyResponse})
	}
	return success(resp.Choices[0].Message.Content)
}

// openAIMessages places the system prompt first, then history, then the
// new user turn. Roles map one to one.
func openAIMessages(req Request) []openAIMessage {
	msgs := make([]openAIMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, openAIMessage{Role: role, Content: historyText(m)})
	}
	return append(msgs, openAIMessage{Role: "user", Content: req.UserPrompt})
}
