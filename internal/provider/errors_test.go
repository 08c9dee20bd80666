// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_TypedErrors(t *testing.T) {
	for _, class := range []Classification{ClassRateLimit, ClassTimeout, ClassOverloaded, ClassServerError, ClassAuth, ClassBadRequest} {
		err := NewError("model-x", class, 0, "boom")
		assert.Equal(t, class, Classify(err))
	}
}

func TestClassify_WrappedTypedError(t *testing.T) {
	inner := NewError("model-x", ClassRateLimit, 429, "slow down")
	wrapped := fmt.Errorf("call failed: %w", inner)

	assert.Equal(t, ClassRateLimit, Classify(wrapped))
	assert.True(t, IsTransient(wrapped))
}

func TestClassify_ContextDeadline(t *testing.T) {
	assert.Equal(t, ClassTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassTimeout, Classify(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
}

func TestClassify_TextHeuristics(t *testing.T) {
	tests := []struct {
		msg  string
		want Classification
	}{
		{"HTTP 429: rate limit exceeded", ClassRateLimit},
		{"quota exhausted for project", ClassRateLimit},
		{"i/o timeout while reading", ClassTimeout},
		{"upstream returned 503, overloaded", ClassOverloaded},
		{"internal error from backend", ClassServerError},
		{"invalid api key", ClassAuth},
		{"403 forbidden", ClassAuth},
		{"bad request: missing field", ClassBadRequest},
		{"something inexplicable", ClassUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(errors.New(tt.msg)), "message %q", tt.msg)
	}
}

func TestTransientAndPermanentPartition(t *testing.T) {
	transient := []Classification{ClassRateLimit, ClassTimeout, ClassOverloaded, ClassServerError}
	permanent := []Classification{ClassAuth, ClassBadRequest}

	for _, class := range transient {
		err := NewError("m", class, 0, "x")
		assert.True(t, IsTransient(err), "%s must be transient", class)
		assert.False(t, IsPermanent(err))
	}
	for _, class := range permanent {
		err := NewError("m", class, 0, "x")
		assert.False(t, IsTransient(err), "%s must not be transient", class)
		assert.True(t, IsPermanent(err))
	}

	// Unknown retries nothing but does not fast-trip the breaker either.
	unknown := NewError("m", ClassUnknown, 0, "x")
	assert.False(t, IsTransient(unknown))
	assert.False(t, IsPermanent(unknown))
	assert.False(t, IsTransient(nil))
}

func TestError_MessageIncludesStatus(t *testing.T) {
	withStatus := NewError("model-x", ClassRateLimit, 429, "slow down")
	assert.Contains(t, withStatus.Error(), "429")
	assert.Contains(t, withStatus.Error(), "model-x")

	withoutStatus := NewError("model-x", ClassTimeout, 0, "deadline")
	assert.NotContains(t, withoutStatus.Error(), "status")
}

func TestStaticDegradedResponder(t *testing.T) {
	custom := &StaticDegradedResponder{
		Replies: map[string]string{"rate_limited": "try later"},
		Default: "sorry",
	}
	assert.Equal(t, "try later", custom.DegradedReply("rate_limited"))
	assert.Equal(t, "sorry", custom.DegradedReply("unavailable"))

	empty := &StaticDegradedResponder{}
	assert.NotEmpty(t, empty.DegradedReply("anything"))
}
