// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/fallback"
	"github.com/modelmux/modelmux/internal/intent"
)

// SelectionReason explains how a model was chosen.
type SelectionReason string

const (
	// ReasonDeveloperForced is a caller-supplied model override.
	ReasonDeveloperForced SelectionReason = "developer_forced"
	// ReasonRuleMatch is the deterministic intent rule fast path.
	ReasonRuleMatch SelectionReason = "rule_match"
	// ReasonScoreBased is the scored search over all registered models.
	ReasonScoreBased SelectionReason = "score_based"
	// ReasonCacheHit is a reused prior decision (reserved for callers that
	// memoize selections; the selector itself always recomputes).
	ReasonCacheHit SelectionReason = "cache_hit"
	// ReasonFallbackDefault is the configured safe-default backstop.
	ReasonFallbackDefault SelectionReason = "fallback_default"
)

// LatencyScorer supplies the speed score for a model, 0.5 when unknown.
type LatencyScorer interface {
	Score(modelID string, baselineMs float64) float64
}

// PreferenceSource supplies the session's preference for a model, 0.5 when
// unknown.
type PreferenceSource interface {
	PreferenceScore(sessionID, modelID string) float64
}

// Selection is the outcome of primary-model selection.
type Selection struct {
	ModelID    string
	Reason     SelectionReason
	Confidence float64
	Score      float64
}

// SelectInput carries everything selection needs for one request.
type SelectInput struct {
	// Intents are the classified intents, highest confidence first.
	Intents []intent.Score
	// TokenCount is the estimated prompt token count.
	TokenCount int
	// SessionID identifies the conversation; empty disables preference
	// boosts.
	SessionID string
	// ForcedModel is a caller override; unknown ids fall through to normal
	// routing instead of failing the request.
	ForcedModel string
	// Hour is the local hour of day for rule conditions.
	Hour int
}

// Selector chooses a primary model for a classified request. It never
// returns an error: every degenerate input degrades to the safe default.
type Selector struct {
	registry    *Registry
	latency     LatencyScorer
	preferences PreferenceSource
	baselineMs  float64
}

// NewSelector wires a selector over the registry with the latency and
// session collaborators. Either collaborator may be nil; scores then use the
// neutral 0.5.
func NewSelector(registry *Registry, latency LatencyScorer, preferences PreferenceSource, baselineMs float64) *Selector {
	if baselineMs <= 0 {
		baselineMs = 2000
	}
	return &Selector{
		registry:    registry,
		latency:     latency,
		preferences: preferences,
		baselineMs:  baselineMs,
	}
}

// Select applies the selection policy in priority order: caller override,
// rule table, scored search, safe default. This path must never raise; an
// empty registry yields the safe default with ReasonFallbackDefault.
func (sel *Selector) Select(in SelectInput) Selection {
	snap := sel.registry.Current()

	// 1. Explicit override, validated against the registry.
	if in.ForcedModel != "" {
		if m, ok := snap.GetModel(in.ForcedModel); ok {
			return Selection{ModelID: m.ID, Reason: ReasonDeveloperForced, Confidence: 1.0}
		}
		log.Warnf("forced model %q not registered, falling through to normal routing", in.ForcedModel)
	}

	rctx := &RuleContext{
		Intents:    intentTags(in.Intents),
		TokenCount: in.TokenCount,
		SessionID:  in.SessionID,
		Hour:       in.Hour,
	}

	// 2. Deterministic rule table.
	if model, confidence, ok := snap.MatchRule(in.Intents, rctx); ok {
		return Selection{ModelID: model, Reason: ReasonRuleMatch, Confidence: confidence}
	}

	// 3. Scored search.
	if best, score, ok := sel.scoreSearch(snap, in, nil); ok {
		return Selection{ModelID: best, Reason: ReasonScoreBased, Confidence: scoreConfidence(score), Score: score}
	}

	// 4. Safe default; this path must never raise.
	return sel.safeDefault(snap)
}

// SelectHealthy runs the scored search restricted to models the admit
// predicate accepts. Used as the generic "choose any healthy model"
// backstop once a fallback chain is exhausted.
func (sel *Selector) SelectHealthy(in SelectInput, admit func(modelID string) bool) (Selection, bool) {
	snap := sel.registry.Current()
	best, score, ok := sel.scoreSearch(snap, in, admit)
	if !ok {
		return Selection{}, false
	}
	return Selection{ModelID: best, Reason: ReasonScoreBased, Confidence: scoreConfidence(score), Score: score}, true
}

// scoreSearch scores every registered model and returns the maximum. Ties
// are broken by registry iteration order, which is stable configuration
// order, keeping selection deterministic.
func (sel *Selector) scoreSearch(snap *Snapshot, in SelectInput, admit func(string) bool) (string, float64, bool) {
	tags := make([]intent.Intent, 0, len(in.Intents))
	for _, s := range in.Intents {
		tags = append(tags, s.Intent)
	}

	var best *Model
	bestScore := 0.0
	for _, m := range snap.ListModels() {
		if admit != nil && !admit(m.ID) {
			continue
		}

		pref := 0.5
		if sel.preferences != nil && in.SessionID != "" {
			pref = sel.preferences.PreferenceScore(in.SessionID, m.ID)
		}
		lat := 0.5
		if sel.latency != nil {
			lat = sel.latency.Score(m.ID, sel.baselineMs)
		}

		score := ScoreModel(m, ScoreInput{
			Intents:           tags,
			TokenCount:        in.TokenCount,
			SessionPreference: pref,
			LatencyScore:      lat,
		})
		if best == nil || score > bestScore {
			best = m
			bestScore = score
		}
	}
	if best == nil {
		return "", 0, false
	}
	return best.ID, bestScore, true
}

func (sel *Selector) safeDefault(snap *Snapshot) Selection {
	id := snap.SafeDefault()
	if id == "" {
		id = fallback.Normalize("unknown")
	}
	return Selection{ModelID: id, Reason: ReasonFallbackDefault, Confidence: 0.3}
}

// scoreConfidence maps a raw score into a rough (0,1) confidence. The exact
// shape only matters for observability; selection order uses raw scores.
func scoreConfidence(score float64) float64 {
	switch {
	case score >= 3:
		return 0.9
	case score >= 2:
		return 0.8
	case score >= 1:
		return 0.65
	case score > 0:
		return 0.5
	default:
		return 0.35
	}
}

func intentTags(scores []intent.Score) []string {
	out := make([]string, 0, len(scores))
	for _, s := range scores {
		out = append(out, string(s.Intent))
	}
	return out
}
