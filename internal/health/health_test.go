package health

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestNewAggregates(t *testing.T) {
	r := New("X",
		Check(t.Context(), Admin, func(context.Context) error { return nil }),
		Check(t.Context(), Download, func(context.Context) error { return nil }),
		Check(t.Context(), Upload, func(context.Context) error { return errors.New("connection refused") }),
	)
	assert.False(t, r.Healthy)
	assert.Equal(t, []string{Upload}, r.Unhealthy())

	up, ok := r.Component(Upload)
	require.True(t, ok)
	assert.Equal(t, "connection refused", up.Detail)
	_, ok = r.Component(Web)
	assert.False(t, ok)
}

func TestNewAllHealthy(t *testing.T) {
	r := New("X", Component{Name: Admin, Healthy: true})
	assert.True(t, r.Healthy)
	assert.Empty(t, r.Unhealthy())
}

func TestCheckGivesUpWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	c := Check(ctx, Web, func(context.Context) error {
		<-release
		return nil
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, c.Healthy)
	assert.Contains(t, c.Detail, "deadline exceeded")
}
