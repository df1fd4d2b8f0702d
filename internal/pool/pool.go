// Package pool manages a bounded set of reusable broker connections.
// A connection is either idle in the pool, checked out to exactly one
// owner, or closed; it is never shared. Pool exhaustion degrades to a
// fresh unpooled connection instead of blocking callers indefinitely.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflow-systems/docflow-stack/internal/metrics"
)

// Conn is the broker connection surface the pipeline publishes through.
type Conn interface {
	// Publish sends fire-and-forget (status channel traffic).
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishDurable sends and waits for the queue's acknowledgment
	// (stage-to-stage traffic).
	PublishDurable(ctx context.Context, subject string, data []byte) error

	// IsConnected reports connection liveness.
	IsConnected() bool

	// Close releases the connection.
	Close() error
}

// Factory dials a new broker connection.
type Factory func() (Conn, error)

// ErrClosed is returned by Checkout after the pool has been shut down.
var ErrClosed = errors.New("pool: closed")

// PooledConn is a checked-out connection. Callers must hand it back with
// Pool.Return and must not retain the inner Conn afterwards.
type PooledConn struct {
	Conn
	pooled bool
}

// Pool holds a fixed number of broker connections. Size is set at
// construction and never grows; capped resource usage is the invariant.
type Pool struct {
	factory      Factory
	idle         chan Conn
	size         int
	checkoutWait time.Duration
	done         chan struct{}
}

// New dials size connections up front. checkoutWait bounds how long
// Checkout waits for an idle connection before falling back to an
// unpooled one.
func New(size int, checkoutWait time.Duration, factory Factory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool: size must be >= 1, got %d", size)
	}
	if factory == nil {
		return nil, fmt.Errorf("pool: factory is required")
	}

	p := &Pool{
		factory:      factory,
		idle:         make(chan Conn, size),
		size:         size,
		checkoutWait: checkoutWait,
		done:         make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		conn, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: dial connection %d: %w", i+1, err)
		}
		p.idle <- conn
	}

	return p, nil
}

// Checkout hands out an idle connection, validating liveness first. Dead
// connections are discarded and replaced. If no idle connection shows up
// within the checkout window, a fresh unpooled connection is dialed so the
// caller degrades instead of deadlocking; only a failed dial is an error.
func (p *Pool) Checkout(ctx context.Context) (*PooledConn, error) {
	deadline := time.NewTimer(p.checkoutWait)
	defer deadline.Stop()

	for {
		select {
		case <-p.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case conn := <-p.idle:
			if conn.IsConnected() {
				metrics.PoolCheckouts.WithLabelValues("pooled").Inc()
				return &PooledConn{Conn: conn, pooled: true}, nil
			}
			_ = conn.Close()
			metrics.PoolDiscards.Inc()
			p.replenish()
		case <-deadline.C:
			conn, err := p.factory()
			if err != nil {
				return nil, fmt.Errorf("pool: exhausted and fallback dial failed: %w", err)
			}
			metrics.PoolCheckouts.WithLabelValues("fallback").Inc()
			return &PooledConn{Conn: conn, pooled: false}, nil
		}
	}
}

// Return hands a connection back. Unpooled fallback connections and dead
// connections are closed rather than pooled; a discarded slot is
// opportunistically refilled.
func (p *Pool) Return(conn *PooledConn) {
	if conn == nil {
		return
	}

	if !conn.pooled {
		_ = conn.Close()
		return
	}

	if !conn.IsConnected() {
		_ = conn.Close()
		metrics.PoolDiscards.Inc()
		p.replenish()
		return
	}

	p.park(conn.Conn)
}

// park puts a live connection back into the idle channel. Close can drain
// idle concurrently with the send winning the race; the re-check sweeps
// any connection stranded in a closed pool.
func (p *Pool) park(c Conn) {
	select {
	case <-p.done:
		_ = c.Close()
		return
	case p.idle <- c:
	default:
		// Slot already refilled; drop the extra.
		_ = c.Close()
		return
	}

	select {
	case <-p.done:
		select {
		case parked := <-p.idle:
			_ = parked.Close()
		default:
		}
	default:
	}
}

// replenish dials a replacement for a discarded connection without
// blocking the caller. A failed dial leaves the slot empty; the next
// checkout that drains the pool falls back to an unpooled connection.
func (p *Pool) replenish() {
	go func() {
		conn, err := p.factory()
		if err != nil {
			return
		}
		p.park(conn)
	}()
}

// Close shuts the pool and closes every idle connection. Checked-out
// connections are closed as they are returned.
func (p *Pool) Close() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}

	for {
		select {
		case conn := <-p.idle:
			_ = conn.Close()
		default:
			return
		}
	}
}

// Size returns the configured pool size.
func (p *Pool) Size() int {
	return p.size
}
