// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package intent

import (
	"regexp"
	"sort"
	"strings"
)

// patternGroup is the scoring unit for one intent: the group fires when any
// pattern matches, contributing the base score, and every keyword hit adds
// the bonus on top.
type patternGroup struct {
	intent       Intent
	patterns     []*regexp.Regexp
	keywords     []string
	baseScore    float64
	keywordBonus float64
}

// Classifier evaluates an ordered battery of pattern groups against message
// text and keeps every intent whose aggregate score crosses the confidence
// threshold.
type Classifier struct {
	threshold float64
	groups    []patternGroup
}

// NewClassifier creates a classifier with the built-in pattern battery.
func NewClassifier(confidenceThreshold float64) *Classifier {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.45
	}
	return &Classifier{
		threshold: confidenceThreshold,
		groups:    defaultGroups(),
	}
}

// Classify returns a non-empty, confidence-ordered set of intent scores for
// the message. A forced tag short-circuits pattern evaluation entirely. When
// no group crosses the threshold the single casual_chat default is returned;
// this holds for every input including the empty string.
func (c *Classifier) Classify(text string, forced Intent) []Score {
	if forced != "" {
		return []Score{{Intent: forced, Confidence: 1.0}}
	}

	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return []Score{{Intent: CasualChat, Confidence: 0.5}}
	}

	discount := lengthDiscount(lowered)

	var kept []Score
	for _, g := range c.groups {
		score := g.score(lowered) * discount
		if score >= c.threshold {
			kept = append(kept, Score{Intent: g.intent, Confidence: clamp01(score)})
		}
	}

	if len(kept) == 0 {
		return []Score{{Intent: CasualChat, Confidence: 0.5}}
	}

	// Highest confidence first; group order breaks ties so the result is
	// deterministic for identical input.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	return kept
}

// Threshold returns the configured confidence threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

func (g *patternGroup) score(lowered string) float64 {
	fired := false
	for _, p := range g.patterns {
		if p.MatchString(lowered) {
			fired = true
			break
		}
	}
	if !fired {
		return 0
	}

	score := g.baseScore
	for _, kw := range g.keywords {
		if strings.Contains(lowered, kw) {
			score += g.keywordBonus
		}
	}
	return score
}

// lengthDiscount mildly discounts long messages, which tend to brush against
// many pattern groups at once. 1.0 below 400 chars, floors at 0.8.
func lengthDiscount(lowered string) float64 {
	n := len(lowered)
	if n <= 400 {
		return 1.0
	}
	d := 1.0 - float64(n-400)/4000.0
	if d < 0.8 {
		return 0.8
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func defaultGroups() []patternGroup {
	return []patternGroup{
		{
			intent: Math,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(calculate|solve|equation|formula|derivative|integral)\b`),
				regexp.MustCompile(`\b\d+\s*[-+*/^]\s*\d+`),
				regexp.MustCompile(`[∫∑√]|f\(x\)`),
			},
			keywords:     []string{"algebra", "geometry", "calculus", "probability", "statistics", "matrix", "theorem", "proof"},
			baseScore:    0.55,
			keywordBonus: 0.12,
		},
		{
			intent: Debugging,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(debug|stack trace|traceback|segfault|exception|panic)\b`),
				regexp.MustCompile(`\b(error|bug|crash|fails?|broken)\b.*\b(code|function|test|build|program)\b`),
				regexp.MustCompile(`\b(code|function|test|build|program)\b.*\b(error|bug|crash|fails?|broken)\b`),
			},
			keywords:     []string{"nil pointer", "undefined", "nullpointer", "compile", "stack", "why doesn't", "not working", "fix"},
			baseScore:    0.55,
			keywordBonus: 0.1,
		},
		{
			intent: ToolUse,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(call|invoke|use|run)\b.*\b(api|tool|function|endpoint|webhook|plugin)\b`),
				regexp.MustCompile(`\b(search the web|look up|fetch|browse|execute)\b`),
				regexp.MustCompile(`\b(schedule|remind me|set a timer|send an email)\b`),
			},
			keywords:     []string{"api", "integration", "automate", "webhook", "json", "curl"},
			baseScore:    0.5,
			keywordBonus: 0.1,
		},
		{
			intent: Summarization,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(summari[sz]e|summary|tl;?dr|condense|distill)\b`),
				regexp.MustCompile(`\b(key points|main ideas|in brief|shorten)\b`),
			},
			keywords:     []string{"article", "document", "transcript", "meeting", "paper", "bullet"},
			baseScore:    0.6,
			keywordBonus: 0.1,
		},
		{
			intent: Creative,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(write|compose|draft|invent|imagine)\b.*\b(story|poem|song|lyrics|essay|screenplay|novel|haiku)\b`),
				regexp.MustCompile(`\b(brainstorm|creative|fiction|character|plot)\b`),
			},
			keywords:     []string{"story", "poem", "style of", "narrative", "worldbuilding", "dialogue"},
			baseScore:    0.55,
			keywordBonus: 0.1,
		},
		{
			intent: Teaching,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(explain|teach|what is|what are|how does|how do)\b`),
				regexp.MustCompile(`\b(difference between|walk me through|step by step|for beginners|like i'?m five)\b`),
			},
			keywords:     []string{"concept", "understand", "learn", "example", "intuition", "beginner"},
			baseScore:    0.5,
			keywordBonus: 0.08,
		},
		{
			intent: Reasoning,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(analy[sz]e|compare|evaluate|reason|deduce|infer|trade-?offs?)\b`),
				regexp.MustCompile(`\b(pros and cons|which is better|should i|decide between|think through)\b`),
				regexp.MustCompile(`\b(plan|strategy|design)\b.*\b(system|architecture|approach|migration)\b`),
			},
			keywords:     []string{"because", "implications", "constraints", "assumptions", "logic", "argument"},
			baseScore:    0.5,
			keywordBonus: 0.08,
		},
		{
			intent: CasualChat,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`^(hi|hey|hello|yo|sup|good (morning|afternoon|evening))\b`),
				regexp.MustCompile(`\b(how are you|what'?s up|thank you|thanks|lol|haha)\b`),
			},
			keywords:     []string{"nice", "cool", "great", "bye"},
			baseScore:    0.65,
			keywordBonus: 0.05,
		},
	}
}
