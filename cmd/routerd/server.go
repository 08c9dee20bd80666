// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/modelmux/modelmux/internal/config"
	"github.com/modelmux/modelmux/internal/intent"
	"github.com/modelmux/modelmux/internal/orchestrator"
	"github.com/modelmux/modelmux/internal/registry"
)

// server is the HTTP shell around the routing engine.
type server struct {
	engine *engine
	http   *http.Server
	router *gin.Engine
}

func newServer(cfg *config.Config, eng *engine) *server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &server{engine: eng, router: router}

	router.GET("/healthz", s.handleHealth)
	router.POST("/v1/route", s.handleRoute)
	router.GET("/v1/decide", s.handleDecide)
	router.GET("/v1/models", s.handleModels)
	router.GET("/v1/breakers", s.handleBreakers)
	router.GET("/v1/sessions", s.handleSessions)
	router.GET("/v1/history", s.handleHistory)
	router.GET("/v1/stats", s.handleStats)

	return s
}

func (s *server) run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *server) shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *server) handleHealth(c *gin.Context) {
	snap := s.engine.registry.Current()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"models": len(snap.ListModels()),
	})
}

// handleRoute runs the full orchestration for one message. The body accepts
// either the native request shape or an OpenAI-style messages array, from
// which the last user message and first system message are extracted.
func (s *server) handleRoute(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
		return
	}

	req := parseRouteRequest(body)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	result := s.engine.orchestrator.Handle(c.Request.Context(), req)
	status := http.StatusOK
	if result.Degraded {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// parseRouteRequest maps the request body onto an orchestrator request and
// tolerates the OpenAI chat-completions shape.
func parseRouteRequest(body []byte) *orchestrator.Request {
	req := &orchestrator.Request{
		Message:           gjson.GetBytes(body, "message").String(),
		SystemInstruction: gjson.GetBytes(body, "system_instruction").String(),
		SessionID:         gjson.GetBytes(body, "session_id").String(),
		ForcedModel:       gjson.GetBytes(body, "forced_model").String(),
		ForcedIntent:      sanitizeForcedIntent(gjson.GetBytes(body, "forced_intent").String()),
	}

	if req.Message == "" {
		messages := gjson.GetBytes(body, "messages")
		if messages.IsArray() {
			for _, m := range messages.Array() {
				switch m.Get("role").String() {
				case "user":
					req.Message = m.Get("content").String()
				case "system":
					if req.SystemInstruction == "" {
						req.SystemInstruction = m.Get("content").String()
					}
				}
			}
		}
		if req.ForcedModel == "" {
			req.ForcedModel = gjson.GetBytes(body, "model").String()
		}
	}
	return req
}

// sanitizeForcedIntent drops forced_intent values outside the closed intent
// set so callers cannot inject arbitrary tags into routing decisions.
func sanitizeForcedIntent(raw string) intent.Intent {
	tag := intent.Intent(raw)
	if tag == "" || !intent.Known(tag) {
		return ""
	}
	return tag
}

// handleDecide runs classification and selection without calling a provider,
// so operators can inspect where a message would be routed.
func (s *server) handleDecide(c *gin.Context) {
	message := c.Query("message")
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message query parameter is required"})
		return
	}

	intents := s.engine.classifier.Classify(message, sanitizeForcedIntent(c.Query("forced_intent")))
	tokenCount := s.engine.estimator.Estimate(message)
	selection := s.engine.selector.Select(registry.SelectInput{
		Intents:     intents,
		TokenCount:  tokenCount,
		SessionID:   c.Query("session_id"),
		ForcedModel: c.Query("forced_model"),
		Hour:        time.Now().Hour(),
	})
	chain := s.engine.registry.Current().Chain(selection.ModelID)

	c.JSON(http.StatusOK, gin.H{
		"intents":          intents,
		"token_count":      tokenCount,
		"model":            selection.ModelID,
		"selection_reason": selection.Reason,
		"confidence":       selection.Confidence,
		"fallback_chain":   chain,
	})
}

func (s *server) handleModels(c *gin.Context) {
	snap := s.engine.registry.Current()
	latencies := s.engine.latencies.Snapshot()

	type modelView struct {
		ID               string   `json:"id"`
		Capabilities     []string `json:"capabilities"`
		MaxContextTokens int      `json:"max_context_tokens"`
		CostScore        float64  `json:"cost_score"`
		QualityTier      string   `json:"quality_tier"`
		BreakerState     string   `json:"breaker_state"`
		EMALatencyMs     float64  `json:"ema_latency_ms,omitempty"`
		RequestCount     int64    `json:"request_count,omitempty"`
		FallbackChain    []string `json:"fallback_chain"`
	}

	models := snap.ListModels()
	out := make([]modelView, 0, len(models))
	for _, m := range models {
		view := modelView{
			ID:               m.ID,
			Capabilities:     m.CapabilityTags(),
			MaxContextTokens: m.MaxContextTokens,
			CostScore:        m.CostScore,
			QualityTier:      m.QualityTier,
			BreakerState:     string(s.engine.breakers.State(m.ID)),
			FallbackChain:    snap.Chain(m.ID),
		}
		if rec, ok := latencies[m.ID]; ok {
			view.EMALatencyMs = rec.EMALatencyMs
			view.RequestCount = rec.RequestCount
		}
		out = append(out, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"models":       out,
		"safe_default": snap.SafeDefault(),
	})
}

func (s *server) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.breakers.Snapshot())
}

func (s *server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.sessions.Stats())
}

func (s *server) handleHistory(c *gin.Context) {
	if s.engine.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision history not enabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.engine.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records})
}

func (s *server) handleStats(c *gin.Context) {
	if s.engine.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision history not enabled"})
		return
	}

	stats, err := s.engine.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": stats})
}
