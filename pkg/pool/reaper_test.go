package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapInterval(t *testing.T) {
	tests := []struct {
		name        string
		maxLifetime time.Duration
		idleTimeout time.Duration
		want        time.Duration
	}{
		{
			name: "Both disabled",
			want: maxReapInterval,
		},
		{
			name:        "Half max lifetime",
			maxLifetime: 10 * time.Second,
			want:        5 * time.Second,
		},
		{
			name:        "Half idle timeout",
			idleTimeout: 20 * time.Second,
			want:        10 * time.Second,
		},
		{
			name:        "Tighter policy wins",
			maxLifetime: time.Hour,
			idleTimeout: 8 * time.Second,
			want:        4 * time.Second,
		},
		{
			name:        "Clamped to floor",
			idleTimeout: 100 * time.Millisecond,
			want:        minReapInterval,
		},
		{
			name:        "Clamped to ceiling",
			maxLifetime: 4 * time.Hour,
			want:        maxReapInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &sharedPool{opts: Options{
				MaxLifetime: tt.maxLifetime,
				IdleTimeout: tt.idleTimeout,
			}}
			assert.Equal(t, tt.want, p.reapInterval())
		})
	}
}

func TestSweepEvictsIdleConnections(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().
		MaxSize(2).
		IdleTimeout(time.Hour).
		MaxLifetime(0).
		Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idleID := conn.ID()
	conn.Release()

	p.inner.sweep(time.Now().Add(2 * time.Hour))

	assert.True(t, connector.openConns()[0].isClosed())
	stat := p.Stat()
	assert.Equal(t, 0, stat.TotalConns)
	assert.Equal(t, int64(1), stat.ReapedIdle)
	assert.Equal(t, int64(0), stat.ReapedLifetime)

	// The evicted connection is gone for good; a new acquire opens a fresh one.
	conn, err = p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()
	assert.NotEqual(t, idleID, conn.ID())
}

func TestSweepEvictsByMaxLifetime(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().
		MaxSize(2).
		MaxLifetime(time.Hour).
		Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	p.inner.sweep(time.Now().Add(2 * time.Hour))

	stat := p.Stat()
	assert.Equal(t, 0, stat.TotalConns)
	assert.Equal(t, int64(1), stat.ReapedLifetime)
}

func TestSweepKeepsFreshConnections(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().
		MaxSize(2).
		MaxLifetime(time.Hour).
		IdleTimeout(time.Hour).
		Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	p.inner.sweep(time.Now())

	stat := p.Stat()
	assert.Equal(t, 1, stat.TotalConns)
	assert.Equal(t, 1, stat.IdleConns)
	assert.False(t, connector.openConns()[0].isClosed())
}

func TestReleaseDiscardsExpiredConnection(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().MaxSize(2).MaxLifetime(time.Hour).Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	// Age the connection past its lifetime while checked out. The expiry is
	// re-checked on release, so it must not be re-idled.
	conn.pc.createdAt = time.Now().Add(-2 * time.Hour)
	conn.Release()

	assert.True(t, connector.openConns()[0].isClosed())
	assert.Equal(t, 0, p.Stat().TotalConns)
}

func TestReplenishRestoresMinSize(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().
		MaxSize(4).
		MinSize(2).
		IdleTimeout(time.Hour).
		MaxLifetime(0).
		Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, 2, p.Stat().IdleConns)

	p.inner.sweep(time.Now().Add(2 * time.Hour))
	require.Equal(t, 0, p.Stat().TotalConns)

	p.inner.replenish()

	stat := p.Stat()
	assert.Equal(t, 2, stat.TotalConns)
	assert.Equal(t, 2, stat.IdleConns)
	assert.Equal(t, 4, connector.opened())
}

func TestReplenishFailureIsNotFatal(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().
		MaxSize(2).
		MinSize(1).
		MaxLifetime(time.Second). // keeps the replenish backoff budget short
		ConnectTimeout(time.Second).
		Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	p.inner.sweep(time.Now().Add(time.Hour))
	require.Equal(t, 0, p.Stat().TotalConns)

	connector.setConnectErr(errors.New("connection refused"))
	p.inner.replenish()

	// Under MinSize but alive; the next round recovers once connects succeed.
	assert.Equal(t, 0, p.Stat().TotalConns)

	connector.setConnectErr(nil)
	p.inner.replenish()
	assert.Equal(t, 1, p.Stat().TotalConns)
}

func TestReaperEvictsInBackground(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-dependent")
	}

	connector := &fakeConnector{}
	p, err := NewBuilder().
		MaxSize(2).
		IdleTimeout(600 * time.Millisecond).
		MaxLifetime(0).
		Build(context.Background(), connector)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	waitFor(t, func() bool { return p.Stat().ReapedIdle >= 1 }, "reaper evicted idle connection")
	assert.True(t, connector.openConns()[0].isClosed())
	assert.Equal(t, 0, p.Stat().TotalConns)
}

func TestReaperStopsOnClose(t *testing.T) {
	connector := &fakeConnector{}
	p, err := NewBuilder().MaxSize(2).Build(context.Background(), connector)
	require.NoError(t, err)

	p.Close()

	select {
	case <-p.inner.reaperDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after close")
	}
}
