// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeranaias/whisper/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// GeminiAdapter speaks the generateContent protocol. The system prompt goes
// into systemInstruction and the assistant role is called "model".
type GeminiAdapter struct {
	*session
	opts Options
	t    *transport
}

// NewGeminiAdapter creates an unconfigured Gemini adapter.
func NewGeminiAdapter(opts Options) *GeminiAdapter {
	return &GeminiAdapter{
		session: newSession(FamilyGemini),
		opts:    opts,
		t:       newTransport(FamilyGemini, opts),
	}
}

// Configure implements Adapter.
func (a *GeminiAdapter) Configure(modelID, apiKey string) error {
	return a.session.configure(modelID, apiKey)
}

// Generate implements Adapter.
func (a *GeminiAdapter) Generate(ctx context.Context, req Request) Result {
	info, key, cerr := a.current()
	if cerr != nil {
		return failure(cerr)
	}

	// The key travels in a header so it never appears in URLs or errors.
	header := http.Header{}
	header.Set("x-goog-api-key", key)

	endpoint := strings.TrimSuffix(a.opts.baseURL(FamilyGemini), "/") +
		"/models/" + url.PathEscape(info.Wire) + ":generateContent"
	data, status, nerr := a.t.post(ctx, endpoint, header, geminiBody(req), key)
	if nerr != nil {
		return failure(nerr)
	}

	if status != http.StatusOK {
		var apiErr geminiErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return failure(statusError(status, apiErr.Error.Status, apiErr.Error.Message))
	}

	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return failure(&Error{Kind: KindProvider, Message: "invalid response from provider", Status: status, Cause: err})
	}
	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return failure(&Error{Kind: KindProvider, Message: "prompt blocked: " + reason, Code: reason, Status: status})
	}
	if len(resp.Candidates) == 0 {
		return failure(&Error{Kind: KindProvider, Message: "provider returned no content", Status: status, Cause: ErrEmptyResponse})
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return failure(&Error{Kind: KindProvider, Message: "provider returned no content", Code: resp.Candidates[0].FinishReason, Status: status, Cause: ErrEmptyResponse})
	}
	return success(b.String())
}

func geminiBody(req Request) geminiRequest {
	body := geminiRequest{Contents: make([]geminiContent, 0, len(req.History)+1)}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.History {
		body.Contents = append(body.Contents, geminiContent{
			Role:  geminiRole(m.Role),
			Parts: []geminiPart{{Text: historyText(m)}},
		})
	}
	body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}})
	return body
}

func geminiRole(r model.Role) string {
	if r == model.RoleAssistant {
		return "model"
	}
	return "user"
}
