// Package worker runs the per-tier bounded worker pools that pull
// documents off a stage's queues, invoke the stage processor, and hand
// the result to the delivery controller for settlement.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/internal/delivery"
	"github.com/docflow-systems/docflow-stack/internal/metrics"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
	"github.com/docflow-systems/docflow-stack/internal/priority"
)

// Identify extracts the document ID from a raw queue payload without
// fully decoding it. A failure means the payload is malformed.
type Identify func(data []byte) (string, error)

// Config describes one tier pool within a stage.
type Config struct {
	Stage      string
	Tier       priority.Tier
	Workers    int
	Receiver   messaging.Receiver
	Processor  pipeline.Processor
	Controller *delivery.Controller
	Identify   Identify
	Logger     *logging.Logger
}

// Pool is a bounded worker pool for a single stage+tier queue. At most
// Workers documents are in flight at once; a stall in one tier never
// blocks the pools serving other tiers.
type Pool struct {
	cfg  Config
	tier string
	sem  *semaphore.Weighted

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool validates and builds a tier pool.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker: pool for %s/%s needs at least 1 worker, got %d",
			cfg.Stage, cfg.Tier, cfg.Workers)
	}
	if cfg.Receiver == nil || cfg.Processor == nil || cfg.Controller == nil || cfg.Identify == nil {
		return nil, errors.New("worker: receiver, processor, controller and identify are required")
	}

	return &Pool{
		cfg:  cfg,
		tier: cfg.Tier.String(),
		sem:  semaphore.NewWeighted(int64(cfg.Workers)),
	}, nil
}

// Start launches the fetch loop. It returns immediately; processing
// continues until Stop is called or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.cfg.Logger.InfoContext(ctx, "worker pool started",
		logging.Stage(p.cfg.Stage),
		logging.Tier(p.tier),
		slog.Int("workers", p.cfg.Workers),
	)
}

// Stop cancels fetching and waits up to drainTimeout for in-flight
// documents to settle. Unsettled messages redeliver after the broker's
// ack wait expires, so a hard deadline here loses no work.
func (p *Pool) Stop(drainTimeout time.Duration) {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.cfg.Logger.Warn("worker pool drain timed out",
			logging.Stage(p.cfg.Stage),
			logging.Tier(p.tier),
		)
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		msg, err := p.cfg.Receiver.Fetch(ctx)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, messaging.ErrNoMessage) {
				continue
			}
			p.cfg.Logger.ErrorContext(ctx, "fetch failed",
				logging.Stage(p.cfg.Stage),
				logging.Tier(p.tier),
				logging.Error(err),
			)
			// Back off so a broken consumer does not spin hot.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			// Detached from the fetch context: cancellation stops new
			// fetches while in-flight documents finish and settle.
			p.handle(context.WithoutCancel(ctx), msg)
		}()
	}
}

func (p *Pool) handle(ctx context.Context, msg messaging.Delivery) {
	metrics.InFlight.WithLabelValues(p.cfg.Stage, p.tier).Inc()
	defer metrics.InFlight.WithLabelValues(p.cfg.Stage, p.tier).Dec()

	docID, err := p.cfg.Identify(msg.Data())
	if err != nil {
		p.cfg.Controller.RejectMalformed(ctx, msg, p.cfg.Stage, p.tier, err)
		return
	}

	ctx = logging.WithDocumentID(ctx, docID)
	item := &pipeline.WorkItem{
		DocumentID: docID,
		Stage:      p.cfg.Stage,
		Tier:       p.tier,
		Payload:    msg.Data(),
		Attempt:    msg.Attempt(),
	}

	start := time.Now()
	res := p.cfg.Processor.Process(ctx, item)
	res.Duration = time.Since(start)
	metrics.ProcessingDuration.WithLabelValues(p.cfg.Stage, p.tier).Observe(res.Duration.Seconds())

	state := p.cfg.Controller.Settle(ctx, msg, item, res)

	p.cfg.Logger.InfoContext(ctx, "document settled",
		logging.DocumentID(docID),
		logging.Stage(p.cfg.Stage),
		logging.Tier(p.tier),
		logging.Attempt(item.Attempt),
		logging.Status(state.String()),
		logging.Duration(res.Duration.Milliseconds()),
	)
}

// Group runs one Pool per priority tier for a single pipeline stage.
// Tiers operate independently: each has its own queue, its own worker
// budget, and its own lifecycle.
type Group struct {
	pools []*Pool
}

// ReceiverFactory opens the queue receiver for one tier of the stage.
type ReceiverFactory func(ctx context.Context, tier priority.Tier) (messaging.Receiver, error)

// NewGroup builds a pool for every tier with a non-zero worker count.
func NewGroup(ctx context.Context, stage string, workers map[priority.Tier]int, receivers ReceiverFactory, processor pipeline.Processor, controller *delivery.Controller, identify Identify, logger *logging.Logger) (*Group, error) {
	g := &Group{}
	for _, tier := range priority.Tiers {
		n := workers[tier]
		if n < 1 {
			continue
		}

		recv, err := receivers(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("worker: open receiver for %s/%s: %w", stage, tier, err)
		}

		pool, err := NewPool(Config{
			Stage:      stage,
			Tier:       tier,
			Workers:    n,
			Receiver:   recv,
			Processor:  processor,
			Controller: controller,
			Identify:   identify,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		g.pools = append(g.pools, pool)
	}

	if len(g.pools) == 0 {
		return nil, fmt.Errorf("worker: stage %s has no tiers with workers", stage)
	}
	return g, nil
}

// Start starts every tier pool.
func (g *Group) Start(ctx context.Context) {
	for _, p := range g.pools {
		p.Start(ctx)
	}
}

// Stop drains every tier pool concurrently within drainTimeout.
func (g *Group) Stop(drainTimeout time.Duration) {
	var wg sync.WaitGroup
	for _, p := range g.pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Stop(drainTimeout)
		}(p)
	}
	wg.Wait()
}
