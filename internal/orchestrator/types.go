// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator coordinates intent classification, model selection,
// circuit-breaker admission, retries with backoff, and fallback chains into
// one request state machine. Its contract with callers is "always a reply
// and a routing decision, never an error".
package orchestrator

import (
	"time"

	"github.com/modelmux/modelmux/internal/intent"
	"github.com/modelmux/modelmux/internal/registry"
)

// Request is one inbound message to route.
type Request struct {
	// Message is the raw user message text.
	Message string `json:"message"`
	// SystemInstruction is passed through to the provider call.
	SystemInstruction string `json:"system_instruction,omitempty"`
	// SessionID identifies the conversation for adaptive routing; empty
	// disables personalization.
	SessionID string `json:"session_id,omitempty"`
	// ForcedModel is a caller override; unknown ids fall through to normal
	// routing.
	ForcedModel string `json:"forced_model,omitempty"`
	// ForcedIntent short-circuits classification entirely.
	ForcedIntent intent.Intent `json:"forced_intent,omitempty"`
}

// AttemptOutcome describes how one model in the chain fared.
type AttemptOutcome string

const (
	// OutcomeSuccess means the model produced the reply.
	OutcomeSuccess AttemptOutcome = "success"
	// OutcomeFailed means every allowed attempt against the model failed.
	OutcomeFailed AttemptOutcome = "failed"
	// OutcomeRefused means the circuit breaker refused admission; the model
	// was never called.
	OutcomeRefused AttemptOutcome = "refused"
)

// Attempt is one entry of the decision trail.
type Attempt struct {
	Model   string         `json:"model"`
	Outcome AttemptOutcome `json:"outcome"`
	// Calls is the number of provider calls made (0 when refused).
	Calls int `json:"calls"`
	// Error is the last failure detail, empty on success.
	Error string `json:"error,omitempty"`
}

// RoutingDecision is the structured record emitted once per request,
// regardless of outcome, for the observability sink.
type RoutingDecision struct {
	// RequestID is the engine-assigned id for this orchestration.
	RequestID string `json:"request_id"`
	// SessionID echoes the request's session, if any.
	SessionID string `json:"session_id,omitempty"`
	// Timestamp is when orchestration started.
	Timestamp time.Time `json:"timestamp"`

	// Intents are the classified intents with confidences.
	Intents []intent.Score `json:"intents"`

	// ChosenModel is the model that produced the reply; empty when the
	// request exhausted every candidate.
	ChosenModel string `json:"chosen_model"`
	// SelectionReason explains the primary selection.
	SelectionReason registry.SelectionReason `json:"selection_reason"`
	// Confidence is the selection confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// FallbacksAttempted is the ordered trail of models considered after
	// (and including failures of) the primary.
	FallbacksAttempted []Attempt `json:"fallbacks_attempted"`

	// Degraded is true when the reply came from the degraded responder.
	Degraded bool `json:"degraded"`
	// LastError carries the final failure detail on degraded results.
	LastError string `json:"last_error,omitempty"`

	// LatencyMs is total orchestration wall time.
	LatencyMs int64 `json:"latency_ms"`
}

// Result is what the orchestrator hands back to its caller.
type Result struct {
	// Reply is the text to surface to the user; on exhaustion it is the
	// degraded placeholder, never empty.
	Reply string `json:"reply"`
	// Model is the model that produced the reply, empty when degraded.
	Model string `json:"model,omitempty"`
	// Degraded marks an exhausted request.
	Degraded bool `json:"degraded"`
	// Decision is the full routing trail.
	Decision *RoutingDecision `json:"decision"`
}

// DecisionSink receives routing decisions for asynchronous, best-effort
// persistence and metrics. Implementations must never block the request
// path; failures must never affect the orchestration result.
type DecisionSink interface {
	Publish(decision *RoutingDecision)
}
