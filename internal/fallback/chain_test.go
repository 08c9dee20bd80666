// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fallback

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func testBuilder() *Builder {
	return NewBuilder(map[string][]string{
		"openai:gpt-4o":  {"anthropic:claude-sonnet", "openai:gpt-4o-mini"},
		"local:llama":    {"local:llama", "LOCAL:LLAMA", "openai:gpt-4o-mini"},
		"broken:primary": {"", "   "},
	}, "openai:gpt-4o-mini")
}

func TestChain_PrimaryFirst(t *testing.T) {
	b := testBuilder()

	chain := b.Chain("openai:gpt-4o")
	assert.Equal(t, []string{"openai:gpt-4o", "anthropic:claude-sonnet", "openai:gpt-4o-mini"}, chain)
}

func TestChain_UnknownPrimaryIsItsOwnChain(t *testing.T) {
	b := testBuilder()

	chain := b.Chain("mystery:model")
	assert.Equal(t, []string{"mystery:model"}, chain)
}

func TestChain_DeduplicatesAndNormalizes(t *testing.T) {
	b := testBuilder()

	chain := b.Chain("LOCAL:LLAMA ")
	assert.Equal(t, []string{"local:llama", "openai:gpt-4o-mini"}, chain)
}

func TestChain_EmptyPrimaryDegradesToSafeDefault(t *testing.T) {
	b := testBuilder()

	assert.Equal(t, []string{"openai:gpt-4o-mini"}, b.Chain(""))
	assert.Equal(t, []string{"openai:gpt-4o-mini"}, b.Chain("   "))
}

func TestChain_NoConfigurationYieldsSentinel(t *testing.T) {
	b := NewBuilder(nil, "")

	assert.Equal(t, []string{"unknown"}, b.Chain(""))
}

func TestChain_BlankSubstitutesDropped(t *testing.T) {
	b := testBuilder()

	assert.Equal(t, []string{"broken:primary"}, b.Chain("broken:primary"))
}

func TestProperty_ChainInvariants(t *testing.T) {
	b := testBuilder()
	properties := gopter.NewProperties(nil)

	properties.Property("chains are non-empty, deduplicated, and idempotent", prop.ForAll(
		func(primary string) bool {
			chain := b.Chain(primary)
			if len(chain) == 0 {
				return false
			}

			seen := make(map[string]bool, len(chain))
			for _, id := range chain {
				if id == "" || seen[id] {
					return false
				}
				seen[id] = true
			}

			again := b.Chain(primary)
			if len(again) != len(chain) {
				return false
			}
			for i := range chain {
				if chain[i] != again[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
