// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sink

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/internal/intent"
	"github.com/modelmux/modelmux/internal/orchestrator"
	"github.com/modelmux/modelmux/internal/registry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, retentionDays: 90}, mock
}

func sampleDecision() *orchestrator.RoutingDecision {
	return &orchestrator.RoutingDecision{
		RequestID: "req-1",
		SessionID: "sess-1",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Intents: []intent.Score{
			{Intent: intent.Reasoning, Confidence: 0.8},
		},
		ChosenModel:     "openai:gpt-4o",
		SelectionReason: registry.ReasonScoreBased,
		Confidence:      0.8,
		FallbacksAttempted: []orchestrator.Attempt{
			{Model: "openai:gpt-4o", Outcome: orchestrator.OutcomeSuccess, Calls: 1},
		},
		LatencyMs: 420,
	}
}

func TestStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO decisions").
		WithArgs(
			"req-1", "sess-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "openai:gpt-4o",
			"score_based", 0.8, sqlmock.AnyArg(), 0, "", int64(420),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Insert(context.Background(), sampleDecision()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertDegraded(t *testing.T) {
	store, mock := newMockStore(t)

	d := sampleDecision()
	d.ChosenModel = ""
	d.Degraded = true
	d.LastError = "provider call to x failed"

	mock.ExpectExec("INSERT INTO decisions").
		WithArgs(
			"req-1", "sess-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "",
			"score_based", 0.8, sqlmock.AnyArg(), 1, d.LastError, int64(420),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Insert(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertNilDecision(t *testing.T) {
	store, _ := newMockStore(t)
	assert.Error(t, store.Insert(context.Background(), nil))
}

func TestStore_Recent(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{
		"id", "request_id", "session_id", "timestamp", "intents", "chosen_model",
		"selection_reason", "confidence", "fallbacks", "degraded", "last_error", "latency_ms",
	}
	now := time.Now()
	mock.ExpectQuery("SELECT id, request_id").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(2, "req-2", "sess-1", now, "[]", "", "fallback_default", 0.3, "[]", 1, "boom", 900).
			AddRow(1, "req-1", nil, now.Add(-time.Minute), "[]", "openai:gpt-4o", "score_based", 0.8, "[]", 0, nil, 420))

	records, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "req-2", records[0].RequestID)
	assert.True(t, records[0].Degraded)
	assert.Equal(t, "boom", records[0].LastError)

	assert.Equal(t, "req-1", records[1].RequestID)
	assert.Empty(t, records[1].SessionID, "NULL session scans to empty string")
	assert.False(t, records[1].Degraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Stats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT chosen_model, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"chosen_model", "count", "avg"}).
			AddRow("openai:gpt-4o", 12, 480.5).
			AddRow("", 2, 1200.0))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "openai:gpt-4o", stats[0].Model)
	assert.Equal(t, int64(12), stats[0].Decisions)
	assert.InDelta(t, 480.5, stats[0].AvgLatencyMs, 1e-9)
	assert.Equal(t, "", stats[1].Model, "exhausted requests group under the empty model")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClosedStoreErrors(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectClose()
	require.NoError(t, store.Close())

	assert.Error(t, store.Insert(context.Background(), sampleDecision()))
	_, err := store.Recent(context.Background(), 5)
	assert.Error(t, err)
	_, err = store.Stats(context.Background())
	assert.Error(t, err)

	assert.NoError(t, store.Close(), "double close is a no-op")
}
