package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcanefly/workforce/ratelimit"
)

func TestCheck_AdmitsUpToCapThenDenies(t *testing.T) {
	l := ratelimit.New(func(provider, modelID string) ratelimit.Caps {
		return ratelimit.Caps{RequestsPerMinute: 3, RequestsPerHour: 100, USDPerHour: 10}
	})

	allowedCount := 0
	for i := 0; i < 5; i++ {
		allowed, _ := l.Check(context.Background(), "anthropic", "claude-3-5-sonnet", 0.01)
		if allowed {
			allowedCount++
		}
	}
	// Per spec §8: allowed count <= min(R/min, R/hr, C/hr/per_request_cost).
	assert.LessOrEqual(t, allowedCount, 3)
}

func TestCheck_CountersIncrementEvenWhenDenied(t *testing.T) {
	l := ratelimit.New(func(provider, modelID string) ratelimit.Caps {
		return ratelimit.Caps{RequestsPerMinute: 1}
	})
	_, info1 := l.Check(context.Background(), "p", "m", 0)
	assert.True(t, info1.Allowed)
	allowed2, info2 := l.Check(context.Background(), "p", "m", 0)
	assert.False(t, allowed2)
	assert.Equal(t, 2, info2.RequestsThisMin)
}

func TestCheck_USDCapDenies(t *testing.T) {
	l := ratelimit.New(func(provider, modelID string) ratelimit.Caps {
		return ratelimit.Caps{USDPerHour: 1.0}
	})
	allowed, _ := l.Check(context.Background(), "p", "m", 0.5)
	assert.True(t, allowed)
	allowed, info := l.Check(context.Background(), "p", "m", 0.6)
	assert.False(t, allowed)
	assert.Equal(t, "usd_per_hour_exceeded", info.Reason)
}
