// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tokens estimates prompt token counts for context-window checks
// during model scoring.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens for pre-flight context-window analysis. It uses
// the cl100k BPE encoding when available and degrades to a word-count
// heuristic, so estimation itself can never fail a request.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewEstimator creates a token estimator. The BPE codec is loaded lazily on
// first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns the approximate token count for the given text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	e.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			e.codec = codec
		}
	})

	if e.codec != nil {
		if ids, _, err := e.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return heuristicEstimate(text)
}

// heuristicEstimate approximates token count as words * 1.3, the average
// subword expansion for English text.
func heuristicEstimate(text string) int {
	wordCount := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if isSpace {
			inWord = false
		} else if !inWord {
			wordCount++
			inWord = true
		}
	}
	return int(float64(wordCount) * 1.3)
}
