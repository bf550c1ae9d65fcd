// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "sort"

// Family identifies a provider wire protocol.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyGroq      Family = "groq"
	FamilyGemini    Family = "gemini"
	FamilyAnthropic Family = "anthropic"
)

// ModelInfo describes a selectable model.
type ModelInfo struct {
	// ID is the stable identifier stored in settings and key maps.
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// Wire is the model name sent to the provider.
	Wire string `json:"wire"`

	Family Family `json:"family"`
}

var catalog = map[string]ModelInfo{
	"openai_3.5_turbo":   {ID: "openai_3.5_turbo", Name: "GPT-3.5 Turbo", Wire: "gpt-3.5-turbo", Family: FamilyOpenAI},
	"openai_4o":          {ID: "openai_4o", Name: "GPT-4o", Wire: "gpt-4o", Family: FamilyOpenAI},
	"openai_4o_mini":     {ID: "openai_4o_mini", Name: "GPT-4o mini", Wire: "gpt-4o-mini", Family: FamilyOpenAI},
	"groq_llama_3.3_70b": {ID: "groq_llama_3.3_70b", Name: "Llama 3.3 70B (Groq)", Wire: "llama-3.3-70b-versatile", Family: FamilyGroq},
	"gemini_1.5_pro":     {ID: "gemini_1.5_pro", Name: "Gemini 1.5 Pro", Wire: "gemini-1.5-pro", Family: FamilyGemini},
	"gemini_2.0_flash":   {ID: "gemini_2.0_flash", Name: "Gemini 2.0 Flash", Wire: "gemini-2.0-flash", Family: FamilyGemini},
	"claude_3.5_sonnet":  {ID: "claude_3.5_sonnet", Name: "Claude 3.5 Sonnet", Wire: "claude-3-5-sonnet-latest", Family: FamilyAnthropic},
	"claude_3.5_haiku":   {ID: "claude_3.5_haiku", Name: "Claude 3.5 Haiku", Wire: "claude-3-5-haiku-latest", Family: FamilyAnthropic},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (ModelInfo, bool) {
	m, ok := catalog[id]
	return m, ok
}

// Catalog returns all known models sorted by ID.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByFamily returns the catalog entries of one family sorted by ID.
func ByFamily(f Family) []ModelInfo {
	var out []ModelInfo
	for _, m := range Catalog() {
		if m.Family == f {
			out = append(out, m)
		}
	}
	return out
}
