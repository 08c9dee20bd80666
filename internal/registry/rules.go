// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/config"
	"github.com/modelmux/modelmux/internal/fallback"
	"github.com/modelmux/modelmux/internal/intent"
)

// RuleContext is the environment an intent rule's optional condition is
// evaluated against.
type RuleContext struct {
	// Intents holds every classified intent tag for the request.
	Intents []string `expr:"intents"`
	// TokenCount is the estimated prompt token count.
	TokenCount int `expr:"token_count"`
	// SessionID identifies the conversation, empty for one-shot requests.
	SessionID string `expr:"session_id"`
	// Hour is the local hour of day (0-23).
	Hour int `expr:"hour"`
}

// compiledRule is one entry of the rule table with its condition compiled
// once at reload time.
type compiledRule struct {
	intent     intent.Intent
	model      string
	confidence float64
	condition  string
	program    *vm.Program
}

func compileRules(rules []config.IntentRule) ([]*compiledRule, error) {
	out := make([]*compiledRule, 0, len(rules))
	for _, rc := range rules {
		cr := &compiledRule{
			intent:     intent.Intent(rc.Intent),
			model:      fallback.Normalize(rc.Model),
			confidence: rc.Confidence,
			condition:  rc.When,
		}
		if rc.When != "" {
			program, err := expr.Compile(rc.When, expr.Env(RuleContext{}), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("intent rule for %q: failed to compile condition: %w", rc.Intent, err)
			}
			cr.program = program
		}
		out = append(out, cr)
	}
	return out, nil
}

// matches evaluates the rule against the classified intents and context.
// Condition evaluation errors disable the rule for this request only.
func (r *compiledRule) matches(intents []intent.Score, rctx *RuleContext) bool {
	if !intent.Has(intents, r.intent) {
		return false
	}
	if r.program == nil {
		return true
	}

	output, err := expr.Run(r.program, *rctx)
	if err != nil {
		log.Warnf("intent rule condition %q failed: %v", r.condition, err)
		return false
	}
	result, ok := output.(bool)
	return ok && result
}

// MatchRule returns the first rule in declaration order that matches the
// classified intents and whose target model exists in this snapshot.
func (s *Snapshot) MatchRule(intents []intent.Score, rctx *RuleContext) (model string, confidence float64, ok bool) {
	for _, r := range s.rules {
		if !r.matches(intents, rctx) {
			continue
		}
		if _, known := s.byID[r.model]; !known {
			log.Warnf("intent rule for %q targets unknown model %q, skipping", r.intent, r.model)
			continue
		}
		return r.model, r.confidence, true
	}
	return "", 0, false
}
