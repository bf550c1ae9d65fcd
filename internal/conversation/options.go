// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/model"
)

// KeyStore supplies the selected model and its API key.
type KeyStore interface {
	Selection() string
	Credentials(modelID string) (string, bool)
}

// DefaultPageSize is the LoadMore page size.
const DefaultPageSize = 10

// Option configures a Service.
type Option func(*Service)

// WithProblemSource sets where the problem statement comes from.
func WithProblemSource(p hostctx.ProblemSource) Option {
	return func(s *Service) { s.problems = p }
}

// WithCodeSource sets where the user's code comes from.
func WithCodeSource(c hostctx.CodeSource) Option {
	return func(s *Service) { s.code = c }
}

// WithKeyStore makes every turn configure the adapter from keys. Without
// it the adapter must already be configured.
func WithKeyStore(k KeyStore) Option {
	return func(s *Service) { s.keys = k }
}

// WithTemplate replaces the built-in system prompt template.
func WithTemplate(t string) Option {
	return func(s *Service) {
		if t != "" {
			s.template = t
		}
	}
}

// WithNoCodeSentinel sets the text used when no code was written. An
// empty sentinel leaves the code placeholder empty.
func WithNoCodeSentinel(sentinel string) Option {
	return func(s *Service) { s.sentinel = sentinel }
}

// WithDefaultLanguage sets the language used when the editor's is unknown.
func WithDefaultLanguage(lang string) Option {
	return func(s *Service) { s.defaultLanguage = lang }
}

// WithPageSize sets the LoadMore page size.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithParser replaces the response parser.
func WithParser(parse func(string) model.StructuredContent) Option {
	return func(s *Service) { s.parse = parse }
}

// TurnOption overrides host context for a single turn.
type TurnOption func(*turnContext)

type turnContext struct {
	problem *hostctx.Problem
	code    *string
}

// WithProblem uses p instead of the problem source for this turn.
func WithProblem(p hostctx.Problem) TurnOption {
	return func(tc *turnContext) { tc.problem = &p }
}

// WithCode uses code instead of the code source for this turn. Empty code
// means no code was written.
func WithCode(code string) TurnOption {
	return func(tc *turnContext) { tc.code = &code }
}

