// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package parser

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Fence is the code fence delimiter.
const Fence = "```"

type section int

const (
	sectionNone section = iota
	sectionFeedback
	sectionHints
	sectionSnippet
)

type markerKind int

const (
	markerFeedback markerKind = iota + 1
	markerHint
	markerHints
	markerSnippet
	markerLanguage
)

var (
	markerPattern = regexp.MustCompile(`(?i)^[\s>#*_]*(feedback|hints?|snippet|language)(\s*#?\d+)?\s*[*_]*\s*:[*_]*\s*`)
	bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)
)

// =============================================================================
// PARSE
// =============================================================================

// Parse extracts structured content from raw model output. It never fails:
// when nothing can be separated the trimmed text is returned as feedback.
func Parse(raw string) (sc model.StructuredContent) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if trimmed == "" {
		return model.StructuredContent{}
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn("parser: recovered from %v, using raw text as feedback", r)
			sc = model.StructuredContent{Feedback: trimmed}
		}
	}()

	if out, ok := parseJSON(trimmed); ok {
		return out
	}
	if out, ok := parseMarkers(trimmed); ok {
		return out
	}
	if out, ok := parseFenced(trimmed); ok {
		return out
	}
	return model.StructuredContent{Feedback: trimmed}
}

// =============================================================================
// JSON SHAPE
// =============================================================================

type jsonReply struct {
	Feedback            *string         `json:"feedback"`
	Hints               json.RawMessage `json:"hints"`
	Snippet             *string         `json:"snippet"`
	ProgrammingLanguage string          `json:"programmingLanguage"`
	Language            string          `json:"language"`
}

func parseJSON(text string) (model.StructuredContent, bool) {
	body := text
	if strings.HasPrefix(body, Fence) && strings.HasSuffix(body, Fence) && len(body) >= 2*len(Fence) {
		inner := body[len(Fence) : len(body)-len(Fence)]
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.Contains(inner[:nl], "{") {
			inner = inner[nl+1:]
		}
		body = strings.TrimSpace(inner)
	}
	if !strings.HasPrefix(body, "{") {
		return model.StructuredContent{}, false
	}

	var reply jsonReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return model.StructuredContent{}, false
	}
	if reply.Feedback == nil && len(reply.Hints) == 0 && reply.Snippet == nil {
		return model.StructuredContent{}, false
	}

	var sc model.StructuredContent
	if reply.Feedback != nil {
		sc.Feedback = strings.TrimSpace(*reply.Feedback)
	}
	sc.Hints = decodeHints(reply.Hints)

	lang := reply.ProgrammingLanguage
	if lang == "" {
		lang = reply.Language
	}
	if reply.Snippet != nil {
		var infoLang string
		sc.Snippet, infoLang = extractSnippet(*reply.Snippet)
		if lang == "" {
			lang = infoLang
		}
	}
	sc.ProgrammingLanguage = CanonicalLanguage(lang)
	return sc, true
}

func decodeHints(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return compact([]string{single})
	}
	var mixed []interface{}
	if err := json.Unmarshal(raw, &mixed); err == nil {
		for _, v := range mixed {
			if s, ok := v.(string); ok {
				list = append(list, s)
			}
		}
		return compact(list)
	}
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// =============================================================================
// MARKER SHAPE
// =============================================================================

type markerState struct {
	feedback     []string
	hints        []string
	snippet      []string
	language     string
	section      section
	haveSnippet  bool
	snippetDone  bool
	hintContinue bool
}

func parseMarkers(text string) (model.StructuredContent, bool) {
	lines := strings.Split(text, "\n")
	st := &markerState{}
	found := false
	inFence := false

	for _, line := range lines {
		if !inFence {
			if kind, rest, ok := matchMarker(line); ok {
				found = true
				st.apply(kind, rest)
				inFence = togglesFence(rest, inFence)
				continue
			}
		}
		st.add(line)
		inFence = togglesFence(line, inFence)
	}

	if !found {
		return model.StructuredContent{}, false
	}

	sc := model.StructuredContent{
		Feedback: strings.TrimSpace(strings.Join(st.feedback, "\n")),
		Hints:    compact(st.hints),
	}
	lang := st.language
	var block string
	if st.haveSnippet {
		block = strings.Join(st.snippet, "\n")
	} else if before, fenced, after, ok := splitFenced(sc.Feedback); ok {
		// A fenced block in the prose is the snippet when no section names one.
		block = fenced
		sc.Feedback = joinProse(before, after)
	}
	if st.haveSnippet || block != "" {
		var infoLang string
		sc.Snippet, infoLang = extractSnippet(block)
		if lang == "" {
			lang = infoLang
		}
	}
	sc.ProgrammingLanguage = CanonicalLanguage(lang)
	return sc, true
}

func (st *markerState) apply(kind markerKind, rest string) {
	if st.section == sectionSnippet && st.haveSnippet {
		st.snippetDone = true
	}
	st.hintContinue = false

	switch kind {
	case markerFeedback:
		st.section = sectionFeedback
		if strings.TrimSpace(rest) != "" {
			st.feedback = append(st.feedback, rest)
		}
	case markerHint:
		st.section = sectionHints
		if h := strings.TrimSpace(rest); h != "" {
			st.hints = append(st.hints, h)
			st.hintContinue = true
		}
	case markerHints:
		st.section = sectionHints
		if h := strings.TrimSpace(rest); h != "" {
			st.hints = append(st.hints, h)
		}
	case markerSnippet:
		st.section = sectionSnippet
		if st.snippetDone {
			logging.Debug("parser: dropping additional snippet section")
			return
		}
		st.haveSnippet = true
		if strings.TrimSpace(rest) != "" {
			st.snippet = append(st.snippet, rest)
		}
	case markerLanguage:
		st.section = sectionNone
		st.language = strings.TrimSpace(rest)
	}
}

func (st *markerState) add(line string) {
	switch st.section {
	case sectionSnippet:
		if !st.snippetDone {
			st.snippet = append(st.snippet, line)
		}
	case sectionHints:
		if strings.TrimSpace(line) == "" {
			st.section = sectionNone
			st.hintContinue = false
			return
		}
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			st.hints = append(st.hints, m[1])
			st.hintContinue = true
			return
		}
		if st.hintContinue && len(st.hints) > 0 {
			st.hints[len(st.hints)-1] += " " + strings.TrimSpace(line)
			return
		}
		st.hints = append(st.hints, line)
		st.hintContinue = true
	default:
		st.feedback = append(st.feedback, line)
	}
}

// matchMarker reports whether line opens a section. rest is the text after
// the marker, sliced from the original line so content is not normalized.
func matchMarker(line string) (markerKind, string, bool) {
	folded := norm.NFKC.String(line)
	loc := markerPattern.FindStringSubmatchIndex(folded)
	if loc == nil {
		return 0, "", false
	}

	var kind markerKind
	switch strings.ToLower(folded[loc[2]:loc[3]]) {
	case "feedback":
		kind = markerFeedback
	case "hint":
		kind = markerHint
	case "hints":
		kind = markerHints
	case "snippet":
		kind = markerSnippet
	case "language":
		kind = markerLanguage
	}
	rest := trimDecoration(sliceAfterNormalized(line, loc[1]))
	if kind == markerLanguage && !isLanguageValue(rest) {
		return 0, "", false
	}
	return kind, rest, true
}

// isLanguageValue reports whether rest can follow a LANGUAGE marker: blank
// or a single language token. Prose such as "Language: matters less" is not
// a marker.
func isLanguageValue(rest string) bool {
	v := strings.Trim(strings.TrimSpace(rest), "`'\"*_")
	if v == "" {
		return true
	}
	return tagPattern.MatchString(strings.TrimSuffix(v, "."))
}

// sliceAfterNormalized returns the suffix of line that follows its first n
// bytes in NFKC form.
func sliceAfterNormalized(line string, n int) string {
	for i := range line {
		if len(norm.NFKC.String(line[:i])) >= n {
			return line[i:]
		}
	}
	return ""
}

func trimDecoration(s string) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if t := strings.TrimSpace(s); t == "**" || t == "__" {
		return ""
	}
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func togglesFence(line string, inFence bool) bool {
	if strings.Count(line, Fence)%2 == 1 {
		return !inFence
	}
	return inFence
}

// =============================================================================
// FENCED PROSE SHAPE
// =============================================================================

func parseFenced(text string) (model.StructuredContent, bool) {
	before, block, after, ok := splitFenced(text)
	if !ok {
		return model.StructuredContent{}, false
	}
	snippet, lang := extractSnippet(block)
	return model.StructuredContent{
		Feedback:            joinProse(before, after),
		Snippet:             snippet,
		ProgrammingLanguage: CanonicalLanguage(lang),
	}, true
}

// splitFenced finds the first complete fenced block in text. The block opens
// with a run of three or more backticks and closes at the next run at least
// as long; shorter runs inside belong to the content.
func splitFenced(text string) (before, block, after string, ok bool) {
	start := strings.Index(text, Fence)
	if start < 0 {
		return "", "", "", false
	}
	open := backtickRun(text, start)
	for i := start + open; i < len(text); {
		j := strings.Index(text[i:], Fence)
		if j < 0 {
			break
		}
		j += i
		n := backtickRun(text, j)
		if n >= open {
			end := j + n
			return text[:start], text[start:end], text[end:], true
		}
		i = j + n
	}
	return "", "", "", false
}

func backtickRun(s string, i int) int {
	n := 0
	for i+n < len(s) && s[i+n] == '`' {
		n++
	}
	return n
}

func joinProse(before, after string) string {
	return strings.TrimSpace(strings.TrimSpace(before) + "\n" + strings.TrimSpace(after))
}

// =============================================================================
// SNIPPET EXTRACTION
// =============================================================================

// extractSnippet applies the fence rule to a snippet block. It returns the
// snippet and the language named on the fence's info line, if any.
func extractSnippet(block string) (string, string) {
	t := strings.TrimSpace(block)
	if !IsFenced(t) {
		return strings.TrimRightFunc(strings.Trim(block, "\r\n"), unicode.IsSpace), ""
	}
	inner := StripFence(t)
	nl := strings.IndexByte(inner, '\n')
	if nl <= 0 {
		return inner, ""
	}
	if info := strings.TrimSpace(inner[:nl]); isLanguageTag(info) {
		return inner[nl+1:], info
	}
	return inner, ""
}

// IsFenced reports whether s is wrapped in triple backticks on both ends.
func IsFenced(s string) bool {
	return len(s) >= 2*len(Fence) && strings.HasPrefix(s, Fence) && strings.HasSuffix(s, Fence)
}

// StripFence removes exactly one fence from each end of a fenced string.
// Unfenced input is returned unchanged.
func StripFence(s string) string {
	if !IsFenced(s) {
		return s
	}
	return s[len(Fence) : len(s)-len(Fence)]
}
