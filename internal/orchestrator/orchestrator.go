// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/breaker"
	"github.com/modelmux/modelmux/internal/intent"
	"github.com/modelmux/modelmux/internal/latency"
	"github.com/modelmux/modelmux/internal/provider"
	"github.com/modelmux/modelmux/internal/registry"
	"github.com/modelmux/modelmux/internal/session"
	"github.com/modelmux/modelmux/internal/tokens"
)

// Options holds the orchestrator's retry and failover tunables.
type Options struct {
	// MaxModelAttempts caps the number of distinct models actually called
	// per request. Default: 4.
	MaxModelAttempts int
	// RetryCap is the number of in-place retries for transient errors
	// against the same model. Default: 2.
	RetryCap int
	// BackoffCap bounds a single backoff sleep. Default: 10s.
	BackoffCap time.Duration
	// AttemptTimeout bounds one provider call. Default: 30s.
	AttemptTimeout time.Duration

	// Jitter overrides the backoff jitter source, for tests.
	Jitter func() float64
	// Sleep overrides the backoff sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxModelAttempts <= 0 {
		out.MaxModelAttempts = 4
	}
	if out.RetryCap < 0 {
		out.RetryCap = 0
	} else if out.RetryCap == 0 {
		out.RetryCap = 2
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 10 * time.Second
	}
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = 30 * time.Second
	}
	if out.Jitter == nil {
		out.Jitter = rand.Float64
	}
	if out.Sleep == nil {
		out.Sleep = sleepCtx
	}
	return out
}

// Orchestrator is the request state machine tying the routing components
// together. All dependencies are injected; the orchestrator holds no global
// state of its own.
type Orchestrator struct {
	classifier *intent.Classifier
	selector   *registry.Selector
	registry   *registry.Registry
	breakers   *breaker.CircuitBreaker
	latencies  *latency.Tracker
	sessions   *session.Tracker
	estimator  *tokens.Estimator
	caller     provider.Caller
	degraded   provider.DegradedResponder
	sink       DecisionSink

	opts Options
}

// New wires an orchestrator. caller is required; degraded and sink may be
// nil (a built-in static responder and a no-op sink are substituted).
func New(
	classifier *intent.Classifier,
	selector *registry.Selector,
	reg *registry.Registry,
	breakers *breaker.CircuitBreaker,
	latencies *latency.Tracker,
	sessions *session.Tracker,
	estimator *tokens.Estimator,
	caller provider.Caller,
	degraded provider.DegradedResponder,
	sink DecisionSink,
	opts Options,
) *Orchestrator {
	if degraded == nil {
		degraded = &provider.StaticDegradedResponder{}
	}
	return &Orchestrator{
		classifier: classifier,
		selector:   selector,
		registry:   reg,
		breakers:   breakers,
		latencies:  latencies,
		sessions:   sessions,
		estimator:  estimator,
		caller:     caller,
		degraded:   degraded,
		sink:       sink,
		opts:       opts.withDefaults(),
	}
}

// Handle routes one request end to end. It always returns a Result with a
// non-empty reply and a complete RoutingDecision; internal failures are
// converted into state transitions, never surfaced as errors.
func (o *Orchestrator) Handle(ctx context.Context, req *Request) *Result {
	start := time.Now()
	requestID := uuid.NewString()[:8]
	logger := log.WithField("request_id", requestID)

	// CLASSIFY
	intents := o.classifier.Classify(req.Message, req.ForcedIntent)
	if o.sessions != nil && req.SessionID != "" {
		o.sessions.RecordIntents(req.SessionID, intentStrings(intents))
	}

	tokenCount := 0
	if o.estimator != nil {
		tokenCount = o.estimator.Estimate(req.Message)
	}

	// SELECT
	selection := o.selector.Select(registry.SelectInput{
		Intents:     intents,
		TokenCount:  tokenCount,
		SessionID:   req.SessionID,
		ForcedModel: req.ForcedModel,
		Hour:        start.Hour(),
	})
	chain := o.registry.Current().Chain(selection.ModelID)

	logger.Debugf("selected %s (%s, confidence %.2f), chain %v", selection.ModelID, selection.Reason, selection.Confidence, chain)

	decision := &RoutingDecision{
		RequestID:       requestID,
		SessionID:       req.SessionID,
		Timestamp:       start,
		Intents:         intents,
		SelectionReason: selection.Reason,
		Confidence:      selection.Confidence,
	}

	// ATTEMPT / RETRY / FAILOVER
	var lastErr error
	modelsCalled := 0
	triedBackstop := false

	for i := 0; i < len(chain); i++ {
		model := chain[i]

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if modelsCalled >= o.opts.MaxModelAttempts {
			break
		}

		if !o.breakers.Allow(model) {
			logger.Debugf("circuit open for %s, skipping", model)
			decision.FallbacksAttempted = append(decision.FallbacksAttempted, Attempt{Model: model, Outcome: OutcomeRefused})
			lastErr = provider.NewError(model, provider.ClassOverloaded, 0, "circuit open")
		} else {
			reply, latencyMs, calls, err := o.attemptModel(ctx, model, req, logger)
			modelsCalled++
			if err == nil {
				o.recordSuccess(req.SessionID, model, latencyMs, intents)
				decision.FallbacksAttempted = append(decision.FallbacksAttempted, Attempt{Model: model, Outcome: OutcomeSuccess, Calls: calls})
				decision.ChosenModel = model
				return o.finish(decision, &Result{Reply: reply, Model: model, Decision: decision}, start, logger)
			}

			permanent := provider.IsPermanent(err)
			o.breakers.RecordFailure(model, permanent)
			if o.sessions != nil && req.SessionID != "" {
				o.sessions.RecordOutcome(req.SessionID, model, false, 0)
			}
			decision.FallbacksAttempted = append(decision.FallbacksAttempted, Attempt{Model: model, Outcome: OutcomeFailed, Calls: calls, Error: err.Error()})
			lastErr = err
			logger.Warnf("model %s failed after %d calls: %v", model, calls, err)
		}

		// FAILOVER: once the configured chain is exhausted, ask the
		// registry for any healthy model not already considered.
		if i == len(chain)-1 && !triedBackstop {
			triedBackstop = true
			tried := make(map[string]bool, len(decision.FallbacksAttempted))
			for _, a := range decision.FallbacksAttempted {
				tried[a.Model] = true
			}
			healthy, ok := o.selector.SelectHealthy(registry.SelectInput{
				Intents:    intents,
				TokenCount: tokenCount,
				SessionID:  req.SessionID,
				Hour:       start.Hour(),
			}, func(id string) bool {
				return !tried[id] && o.breakers.Allow(id)
			})
			if ok {
				logger.Debugf("chain exhausted, backstop candidate %s", healthy.ModelID)
				chain = append(chain, healthy.ModelID)
			}
		}
	}

	// EXHAUSTED
	category := exhaustionCategory(lastErr)
	if lastErr != nil {
		decision.LastError = lastErr.Error()
	}
	decision.Degraded = true
	reply := o.degraded.DegradedReply(category)
	logger.Warnf("request exhausted after %d models (%s)", len(decision.FallbacksAttempted), category)
	return o.finish(decision, &Result{Reply: reply, Degraded: true, Decision: decision}, start, logger)
}

// attemptModel runs the in-place retry loop for one model: transient
// failures back off and retry up to the cap, anything else returns
// immediately. Retries are sequential, never parallel, so backoff semantics
// stay simple and provider-side idempotent.
func (o *Orchestrator) attemptModel(ctx context.Context, model string, req *Request, logger *log.Entry) (reply string, latencyMs float64, calls int, err error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
		callStart := time.Now()
		reply, err = o.caller.Call(callCtx, model, req.Message, req.SystemInstruction)
		cancel()
		latencyMs = float64(time.Since(callStart).Milliseconds())
		calls++

		if err == nil {
			return reply, latencyMs, calls, nil
		}
		if !provider.IsTransient(err) || attempt >= o.opts.RetryCap {
			return "", 0, calls, err
		}

		delay := backoffDelay(attempt, o.opts.Jitter(), o.opts.BackoffCap)
		logger.Debugf("transient failure on %s (attempt %d), backing off %s: %v", model, attempt+1, delay, err)
		if sleepErr := o.opts.Sleep(ctx, delay); sleepErr != nil {
			return "", 0, calls, err
		}
	}
}

func (o *Orchestrator) recordSuccess(sessionID, model string, latencyMs float64, intents []intent.Score) {
	o.breakers.Record(model, true)
	if o.latencies != nil {
		o.latencies.Record(model, latencyMs)
	}
	if o.sessions != nil && sessionID != "" {
		o.sessions.RecordOutcome(sessionID, model, true, latencyMs)
		if len(intents) > 0 {
			o.sessions.RecordSkillUse(sessionID, string(intents[0].Intent))
		}
	}
}

// finish stamps wall time and emits the decision exactly once.
func (o *Orchestrator) finish(decision *RoutingDecision, result *Result, start time.Time, logger *log.Entry) *Result {
	decision.LatencyMs = time.Since(start).Milliseconds()
	if o.sink != nil {
		o.sink.Publish(decision)
	}
	if !result.Degraded {
		logger.Infof("routed to %s (%s) in %dms", decision.ChosenModel, decision.SelectionReason, decision.LatencyMs)
	}
	return result
}

func exhaustionCategory(err error) string {
	switch provider.Classify(err) {
	case provider.ClassRateLimit:
		return "rate_limited"
	case provider.ClassTimeout, provider.ClassOverloaded, provider.ClassServerError:
		return "unavailable"
	default:
		return "error"
	}
}

func intentStrings(scores []intent.Score) []string {
	out := make([]string, 0, len(scores))
	for _, s := range scores {
		out = append(out, string(s.Intent))
	}
	return out
}
