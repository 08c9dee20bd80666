// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider defines the contracts between the routing engine and its
// external collaborators: the model provider clients that execute calls, and
// the degraded-response source used when every candidate is exhausted.
package provider

import "context"

// Caller executes a prompt against a concrete model. Implementations live
// outside the engine (HTTP clients per provider); the orchestrator only
// depends on this interface.
type Caller interface {
	// Call sends the prompt to the given model and returns the reply text.
	// Failures must be returned as (or wrap) *Error so the orchestrator can
	// distinguish transient from permanent conditions.
	Call(ctx context.Context, modelID, prompt, systemInstruction string) (string, error)
}

// CallerFunc adapts a plain function to the Caller interface.
type CallerFunc func(ctx context.Context, modelID, prompt, systemInstruction string) (string, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, modelID, prompt, systemInstruction string) (string, error) {
	return f(ctx, modelID, prompt, systemInstruction)
}

// DegradedResponder supplies a user-safe reply when the engine has exhausted
// every candidate model. Keyed by a generic error category so the wording can
// differ for rate limiting versus hard outage.
type DegradedResponder interface {
	DegradedReply(category string) string
}

// StaticDegradedResponder returns fixed strings per category with a generic
// default, suitable for tests and for deployments without a dedicated
// degraded-response service.
type StaticDegradedResponder struct {
	// Replies maps an error category to a canned reply.
	Replies map[string]string
	// Default is returned when no category-specific reply exists.
	Default string
}

// DegradedReply implements DegradedResponder.
func (s *StaticDegradedResponder) DegradedReply(category string) string {
	if s != nil && s.Replies != nil {
		if reply, ok := s.Replies[category]; ok {
			return reply
		}
	}
	if s != nil && s.Default != "" {
		return s.Default
	}
	return "All model providers are temporarily unavailable. Please try again in a moment."
}
