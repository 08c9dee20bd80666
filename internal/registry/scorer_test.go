// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modelmux/modelmux/internal/intent"
)

func scoringModel(caps ...string) *Model {
	m := &Model{
		ID:               "test-model",
		Capabilities:     make(map[string]bool),
		MaxContextTokens: 8000,
		QualityTier:      "medium",
	}
	for _, c := range caps {
		m.Capabilities[c] = true
	}
	return m
}

func neutralInput(intents ...intent.Intent) ScoreInput {
	return ScoreInput{
		Intents:           intents,
		TokenCount:        100,
		SessionPreference: 0.5,
		LatencyScore:      0.5,
	}
}

func TestScoreModel_CapabilityMatchRewarded(t *testing.T) {
	with := ScoreModel(scoringModel(CapReasoning), neutralInput(intent.Reasoning))
	without := ScoreModel(scoringModel(), neutralInput(intent.Reasoning))

	assert.InDelta(t, capabilityWeight, with-without, 1e-9)
}

func TestScoreModel_ContextOverflowSinks(t *testing.T) {
	m := scoringModel(CapGeneral)
	fits := neutralInput(intent.Teaching)
	overflow := fits
	overflow.TokenCount = 9000

	assert.InDelta(t, contextWindowPenalty, ScoreModel(m, fits)-ScoreModel(m, overflow), 1e-9)
}

func TestScoreModel_ZeroWindowNeverPenalized(t *testing.T) {
	m := scoringModel(CapGeneral)
	m.MaxContextTokens = 0
	in := neutralInput(intent.Teaching)
	in.TokenCount = 1_000_000

	assert.Equal(t, ScoreModel(m, neutralInput(intent.Teaching)), ScoreModel(m, in))
}

func TestScoreModel_QualityBonusForDemandingIntents(t *testing.T) {
	high := scoringModel(CapHighQuality)
	high.QualityTier = "high"
	medium := scoringModel(CapHighQuality)
	low := scoringModel(CapHighQuality)
	low.QualityTier = "low"

	in := neutralInput(intent.Creative)
	assert.InDelta(t, qualityHighBonus-qualityMediumBonus, ScoreModel(high, in)-ScoreModel(medium, in), 1e-9)
	assert.InDelta(t, qualityMediumBonus, ScoreModel(medium, in)-ScoreModel(low, in), 1e-9)
}

func TestScoreModel_CasualChatPrefersCheapAndFast(t *testing.T) {
	cheap := scoringModel(CapGeneral)
	cheap.CostScore = 1
	pricey := scoringModel(CapGeneral)
	pricey.CostScore = 9

	in := neutralInput(intent.CasualChat)
	assert.Greater(t, ScoreModel(cheap, in), ScoreModel(pricey, in))

	fast := in
	fast.LatencyScore = 0.9
	assert.Greater(t, ScoreModel(cheap, fast), ScoreModel(cheap, in))
}

func TestScoreModel_CostIgnoredForNonCasualIntents(t *testing.T) {
	cheap := scoringModel(CapReasoning)
	cheap.CostScore = 1
	pricey := scoringModel(CapReasoning)
	pricey.CostScore = 9

	in := neutralInput(intent.Reasoning)
	assert.Equal(t, ScoreModel(cheap, in), ScoreModel(pricey, in))
}

func TestScoreModel_SessionPreferenceShifts(t *testing.T) {
	m := scoringModel(CapGeneral)
	liked := neutralInput(intent.Teaching)
	liked.SessionPreference = 1.0
	disliked := neutralInput(intent.Teaching)
	disliked.SessionPreference = 0.0

	assert.InDelta(t, sessionBoostWeight, ScoreModel(m, liked)-ScoreModel(m, disliked), 1e-9)
}

func TestScoreModel_Deterministic(t *testing.T) {
	m := scoringModel(CapReasoning, CapLongContext)
	in := neutralInput(intent.Reasoning, intent.Summarization)

	first := ScoreModel(m, in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScoreModel(m, in))
	}
}
