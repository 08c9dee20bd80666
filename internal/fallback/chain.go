// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fallback builds ordered substitute-model chains used when a
// primary model is unavailable or failing. Chains are pure functions of
// static configuration; there is no per-request state.
package fallback

import "strings"

// Builder produces fallback chains from the configured substitute table.
type Builder struct {
	chains      map[string][]string
	safeDefault string
}

// NewBuilder creates a chain builder. The chains map keys are primary model
// ids; values are ordered substitute lists. safeDefault backstops chains
// that normalize to nothing.
func NewBuilder(chains map[string][]string, safeDefault string) *Builder {
	normalized := make(map[string][]string, len(chains))
	for primary, subs := range chains {
		key := Normalize(primary)
		if key == "" {
			continue
		}
		normalized[key] = append([]string(nil), subs...)
	}
	return &Builder{
		chains:      normalized,
		safeDefault: Normalize(safeDefault),
	}
}

// Chain returns the ordered, deduplicated fallback chain for the primary
// model. The first element is always the primary itself. Unknown primaries
// get the chain [primary]; an empty normalized result degrades to
// [safeDefault]. The result is always non-empty and idempotent for a given
// configuration.
func (b *Builder) Chain(primary string) []string {
	p := Normalize(primary)

	candidates := make([]string, 0, 4)
	if p != "" {
		candidates = append(candidates, p)
	}
	if p != "" {
		candidates = append(candidates, b.chains[p]...)
	}

	seen := make(map[string]bool, len(candidates))
	chain := make([]string, 0, len(candidates))
	for _, c := range candidates {
		id := Normalize(c)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		chain = append(chain, id)
	}

	if len(chain) == 0 {
		if b.safeDefault != "" {
			return []string{b.safeDefault}
		}
		// No usable configuration at all; a sentinel keeps the non-empty
		// guarantee and lets the breaker/registry reject it downstream.
		return []string{"unknown"}
	}
	return chain
}

// Normalize canonicalizes a model id for comparison: trimmed and lowercased.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
