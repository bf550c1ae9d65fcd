// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package parser turns raw model output into structured hint content.
//
// Models drift between output shapes, so Parse accepts several and never
// fails:
//
//   - a JSON object with feedback, hints, snippet and programmingLanguage,
//     optionally wrapped in a ```json fence
//   - marker lines (FEEDBACK:, HINT:, HINTS:, SNIPPET:, LANGUAGE:), matched
//     case-insensitively on the NFKC form of each line
//   - prose with a single fenced code block
//   - anything else, which becomes feedback verbatim
//
// # Snippet fences
//
// A snippet wrapped in triple backticks loses exactly three characters from
// each end. A bare language name on the first line after the opening fence
// is taken as the language and removed.
//
// # Usage
//
//	sc := parser.Parse("Use a map.\nHINT: store complements\nSNIPPET:```seen = {}```")
//	fmt.Println(sc.Hints[0], sc.Snippet)
package parser
