// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"github.com/modelmux/modelmux/internal/intent"
)

// Capability tags recognized by the scorer.
const (
	CapGeneral     = "general"
	CapReasoning   = "reasoning"
	CapLongContext = "long_context"
	CapToolUse     = "tool_use"
	CapHighQuality = "high_quality"
)

// Scoring weights. Kept as named constants so the scoring function stays a
// pure, testable arithmetic expression.
const (
	capabilityWeight     = 1.0
	contextWindowPenalty = 5.0
	latencyBonusWeight   = 1.0
	qualityHighBonus     = 1.0
	qualityMediumBonus   = 0.4
	costPenaltyWeight    = 0.3
	sessionBoostWeight   = 0.8
)

// requiredCapability maps each intent tag to the capability a model should
// carry to serve it well.
func requiredCapability(tag intent.Intent) string {
	switch tag {
	case intent.Reasoning, intent.Debugging, intent.Math:
		return CapReasoning
	case intent.Summarization:
		return CapLongContext
	case intent.Creative:
		return CapHighQuality
	case intent.ToolUse:
		return CapToolUse
	default:
		return CapGeneral
	}
}

// ScoreInput is the frozen per-request context a model is scored against.
type ScoreInput struct {
	// Intents are the classified intent tags.
	Intents []intent.Intent
	// TokenCount is the estimated prompt token count.
	TokenCount int
	// SessionPreference is the session tracker's preference for this model
	// in [0,1]; pass 0.5 (neutral) when no session exists.
	SessionPreference float64
	// LatencyScore is the latency tracker's speed score for this model in
	// [0,1]; pass 0.5 (neutral) for unknown models.
	LatencyScore float64
}

// ScoreModel computes the routing score for one model. Pure function of its
// inputs: identical snapshot, intents, and session state always produce the
// same number.
func ScoreModel(m *Model, in ScoreInput) float64 {
	score := 0.0

	onlyCasual := len(in.Intents) == 1 && in.Intents[0] == intent.CasualChat
	wantsSpeed := false
	wantsQuality := false

	for _, tag := range in.Intents {
		if m.HasCapability(requiredCapability(tag)) {
			score += capabilityWeight
		}
		switch tag {
		case intent.CasualChat:
			wantsSpeed = true
		case intent.Reasoning, intent.Creative, intent.Math:
			wantsQuality = true
		}
	}

	// Soft exclusion: a model whose window cannot hold the prompt sinks to
	// the bottom but stays a candidate, preserving graceful degradation.
	if m.MaxContextTokens > 0 && in.TokenCount > m.MaxContextTokens {
		score -= contextWindowPenalty
	}

	if wantsSpeed {
		score += in.LatencyScore * latencyBonusWeight
	}

	if wantsQuality {
		switch m.QualityTier {
		case "high":
			score += qualityHighBonus
		case "medium":
			score += qualityMediumBonus
		}
	}

	if onlyCasual {
		score -= m.CostScore * costPenaltyWeight
	}

	score += in.SessionPreference * sessionBoostWeight

	return score
}
