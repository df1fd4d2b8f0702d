package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow-systems/docflow-stack/internal/pool"
)

type fakeConn struct {
	id        int
	mu        sync.Mutex
	connected bool
	closed    bool
}

func (f *fakeConn) Publish(ctx context.Context, subject string, data []byte) error {
	return nil
}

func (f *fakeConn) PublishDurable(ctx context.Context, subject string, data []byte) error {
	return nil
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func newFactory() (func() (pool.Conn, error), *atomic.Int64) {
	var dials atomic.Int64
	return func() (pool.Conn, error) {
		n := dials.Add(1)
		return &fakeConn{id: int(n), connected: true}, nil
	}, &dials
}

func TestNew_DialsFixedSize(t *testing.T) {
	factory, dials := newFactory()

	p, err := pool.New(3, 50*time.Millisecond, factory)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, int64(3), dials.Load())
	assert.Equal(t, 3, p.Size())
}

func TestNew_RejectsBadArguments(t *testing.T) {
	factory, _ := newFactory()

	_, err := pool.New(0, time.Second, factory)
	assert.Error(t, err)

	_, err = pool.New(2, time.Second, nil)
	assert.Error(t, err)
}

func TestCheckoutReturn_RoundTrip(t *testing.T) {
	factory, dials := newFactory()
	p, err := pool.New(1, 50*time.Millisecond, factory)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Checkout(context.Background())
	require.NoError(t, err)
	p.Return(conn)

	again, err := p.Checkout(context.Background())
	require.NoError(t, err)
	p.Return(again)

	// The same pooled connection served both checkouts.
	assert.Equal(t, int64(1), dials.Load())
}

func TestCheckout_ExclusiveOwnership(t *testing.T) {
	factory, _ := newFactory()
	p, err := pool.New(2, 50*time.Millisecond, factory)
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Checkout(context.Background())
	require.NoError(t, err)
	b, err := p.Checkout(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, a.Conn, b.Conn, "two owners must never share a connection")

	p.Return(a)
	p.Return(b)
}

func TestCheckout_DiscardsDeadConnections(t *testing.T) {
	factory, dials := newFactory()
	p, err := pool.New(1, 50*time.Millisecond, factory)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Checkout(context.Background())
	require.NoError(t, err)

	inner := conn.Conn.(*fakeConn)
	inner.disconnect()
	p.Return(conn)

	// The dead connection was dropped, so the next checkout gets a
	// replacement (replenished or fallback-dialed).
	next, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.True(t, next.IsConnected())
	assert.GreaterOrEqual(t, dials.Load(), int64(2))
	p.Return(next)
}

func TestCheckout_FallbackOnExhaustion(t *testing.T) {
	factory, dials := newFactory()
	p, err := pool.New(1, 30*time.Millisecond, factory)
	require.NoError(t, err)
	defer p.Close()

	held, err := p.Checkout(context.Background())
	require.NoError(t, err)

	// Pool is empty; the second checkout must come back with a fresh
	// unpooled connection instead of blocking forever.
	start := time.Now()
	fallback, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(2), dials.Load())

	// Returning the fallback closes it rather than growing the pool.
	inner := fallback.Conn.(*fakeConn)
	p.Return(fallback)
	inner.mu.Lock()
	closed := inner.closed
	inner.mu.Unlock()
	assert.True(t, closed)

	p.Return(held)
}

func TestCheckout_FallbackDialFailureIsHardError(t *testing.T) {
	var dials atomic.Int64
	factory := func() (pool.Conn, error) {
		if dials.Add(1) > 1 {
			return nil, errors.New("broker unreachable")
		}
		return &fakeConn{connected: true}, nil
	}

	p, err := pool.New(1, 20*time.Millisecond, factory)
	require.NoError(t, err)
	defer p.Close()

	held, err := p.Checkout(context.Background())
	require.NoError(t, err)
	defer p.Return(held)

	_, err = p.Checkout(context.Background())
	assert.Error(t, err)
}

func TestCheckout_AfterClose(t *testing.T) {
	factory, _ := newFactory()
	p, err := pool.New(1, 50*time.Millisecond, factory)
	require.NoError(t, err)

	p.Close()

	_, err = p.Checkout(context.Background())
	assert.ErrorIs(t, err, pool.ErrClosed)
}

func TestReturn_AfterCloseNeverStrandsConnection(t *testing.T) {
	// Close and Return race; run enough rounds to hit both orderings.
	for i := 0; i < 200; i++ {
		var mu sync.Mutex
		var conns []*fakeConn
		factory := func() (pool.Conn, error) {
			c := &fakeConn{connected: true}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
			return c, nil
		}

		p, err := pool.New(1, 10*time.Millisecond, factory)
		require.NoError(t, err)

		conn, err := p.Checkout(context.Background())
		require.NoError(t, err)

		p.Close()
		p.Return(conn)

		mu.Lock()
		for _, c := range conns {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			assert.True(t, closed, "no connection may stay open after the pool is closed")
		}
		mu.Unlock()
	}
}

func TestCheckout_ContextCancelled(t *testing.T) {
	factory, _ := newFactory()
	p, err := pool.New(1, time.Minute, factory)
	require.NoError(t, err)
	defer p.Close()

	held, err := p.Checkout(context.Background())
	require.NoError(t, err)
	defer p.Return(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Checkout(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
