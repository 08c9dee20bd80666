// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package intent implements multi-label intent classification for inbound
// messages. Classification is a battery of pattern groups, one per intent
// tag, scored with keyword bonuses and a mild length discount. It never
// fails: any input degrades to the casual_chat default.
package intent

// Intent is a classification tag describing what kind of task a message
// represents.
type Intent string

// The closed set of intent tags.
const (
	CasualChat    Intent = "casual_chat"
	Reasoning     Intent = "reasoning"
	Summarization Intent = "summarization"
	Creative      Intent = "creative"
	ToolUse       Intent = "tool_use"
	Debugging     Intent = "debugging"
	Teaching      Intent = "teaching"
	Math          Intent = "math"
)

// All lists every known intent tag in stable order.
func All() []Intent {
	return []Intent{CasualChat, Reasoning, Summarization, Creative, ToolUse, Debugging, Teaching, Math}
}

// Known reports whether the tag belongs to the closed intent set.
func Known(tag Intent) bool {
	for _, it := range All() {
		if it == tag {
			return true
		}
	}
	return false
}

// Score is one classified intent with its confidence.
type Score struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Tags extracts just the intent tags from a score list.
func Tags(scores []Score) []Intent {
	tags := make([]Intent, 0, len(scores))
	for _, s := range scores {
		tags = append(tags, s.Intent)
	}
	return tags
}

// Has reports whether the score list contains the given tag.
func Has(scores []Score, tag Intent) bool {
	for _, s := range scores {
		if s.Intent == tag {
			return true
		}
	}
	return false
}
