// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry holds per-model capability, cost, and context-window
// metadata and implements candidate scoring and selection for a classified
// request. The registry is reloaded wholesale from configuration; readers
// always see a complete snapshot, never a half-updated table.
package registry

import (
	"fmt"
	"sort"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/config"
	"github.com/modelmux/modelmux/internal/fallback"
)

// Model is the static descriptor for one registered model. Observed
// latency lives in the latency tracker; everything here is
// configuration-owned and immutable between reloads.
type Model struct {
	// ID is the canonical (normalized) model identifier.
	ID string `json:"id"`
	// Capabilities tags this model supports.
	Capabilities map[string]bool `json:"capabilities"`
	// MaxContextTokens is the context window size.
	MaxContextTokens int `json:"max_context_tokens"`
	// CostScore is the relative cost (higher is more expensive).
	CostScore float64 `json:"cost_score"`
	// QualityTier is "low", "medium" or "high".
	QualityTier string `json:"quality_tier"`
}

// HasCapability reports whether the model carries the capability tag.
func (m *Model) HasCapability(tag string) bool {
	return m.Capabilities[tag]
}

// CapabilityTags returns the model's capability tags in sorted order.
func (m *Model) CapabilityTags() []string {
	tags := make([]string, 0, len(m.Capabilities))
	for tag := range m.Capabilities {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Snapshot is one immutable registry generation: the model table in stable
// order, the compiled rule table, and the fallback chain builder.
type Snapshot struct {
	models      []*Model
	byID        map[string]*Model
	rules       []*compiledRule
	chains      *fallback.Builder
	safeDefault string
}

// Registry provides atomically swappable access to the current snapshot.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry builds a registry from configuration.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.current.Store(snap)
	return r, nil
}

// Reload replaces the whole snapshot from fresh configuration. On error the
// previous snapshot stays in effect.
func (r *Registry) Reload(cfg *config.Config) error {
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return fmt.Errorf("registry reload rejected: %w", err)
	}
	r.current.Store(snap)
	log.Infof("model registry reloaded: %d models, %d rules", len(snap.models), len(snap.rules))
	return nil
}

// Current returns the live snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// ListModels returns the model table in stable configuration order.
func (s *Snapshot) ListModels() []*Model {
	return s.models
}

// GetModel looks up a model by id (normalized).
func (s *Snapshot) GetModel(id string) (*Model, bool) {
	m, ok := s.byID[fallback.Normalize(id)]
	return m, ok
}

// SafeDefault returns the configured safe-default model id.
func (s *Snapshot) SafeDefault() string {
	return s.safeDefault
}

// Chain returns the fallback chain for the primary model.
func (s *Snapshot) Chain(primary string) []string {
	return s.chains.Chain(primary)
}

// Empty reports whether the registry holds no models.
func (s *Snapshot) Empty() bool {
	return len(s.models) == 0
}

func buildSnapshot(cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration")
	}

	snap := &Snapshot{
		byID:        make(map[string]*Model, len(cfg.Models)),
		safeDefault: fallback.Normalize(cfg.Routing.SafeDefaultModel),
		chains:      fallback.NewBuilder(cfg.FallbackChains, cfg.Routing.SafeDefaultModel),
	}

	for _, mc := range cfg.Models {
		id := fallback.Normalize(mc.ID)
		if id == "" {
			continue
		}
		caps := make(map[string]bool, len(mc.Capabilities))
		for _, c := range mc.Capabilities {
			caps[c] = true
		}
		m := &Model{
			ID:               id,
			Capabilities:     caps,
			MaxContextTokens: mc.MaxContextTokens,
			CostScore:        mc.CostScore,
			QualityTier:      mc.QualityTier,
		}
		snap.models = append(snap.models, m)
		snap.byID[id] = m
	}

	rules, err := compileRules(cfg.IntentRules)
	if err != nil {
		return nil, err
	}
	snap.rules = rules

	return snap, nil
}
