// Package session runs the consumption lifecycle for one cached topic
// session: offset planning, the pipelined fetch/flush loop, progress
// notification and CSV export.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/utils"
)

const eventBuffer = 64

// Coordinator drives a single consumption session from PENDING to a
// terminal status. It owns the broker clients it is given and closes them
// when the session stops.
type Coordinator struct {
	id          string
	profileName string
	req         domain.ConsumptionRequest

	store   domain.MessageStore
	meta    domain.MetadataClient
	factory domain.FetcherFactory
	engine  config.EngineConfig

	mu    sync.RWMutex
	state domain.SessionState

	events    chan domain.ProgressEvent
	closeOnce sync.Once

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// NewCoordinator creates a session in PENDING state. Nothing is consumed
// until Start is called.
func NewCoordinator(id, profileName string, req domain.ConsumptionRequest, store domain.MessageStore, meta domain.MetadataClient, factory domain.FetcherFactory, engine config.EngineConfig) *Coordinator {
	return &Coordinator{
		id:          id,
		profileName: profileName,
		req:         req,
		store:       store,
		meta:        meta,
		factory:     factory,
		engine:      engine,
		state: domain.SessionState{
			ID:          id,
			ProfileName: profileName,
			Request:     req,
			Status:      domain.StatusPending,
			Cursors:     make(map[int32]int64),
		},
		events: make(chan domain.ProgressEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Start plans the offset ranges and launches the fetch loop. A planning
// failure moves the session straight to FAILED and is also returned so the
// caller can report it synchronously.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Status != domain.StatusPending {
		c.mu.Unlock()
		return domain.Errorf(domain.ErrorInvalidRequest, "session.start", "session %s already started", c.id)
	}
	c.mu.Unlock()

	ranges, planned, cached, err := c.plan(ctx)
	if err != nil {
		c.fail(err)
		return err
	}

	fetcher, err := c.factory.NewFetcher(c.req.Topic, ranges)
	if err != nil {
		c.fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.state.Status != domain.StatusPending {
		// Cancelled while planning.
		c.mu.Unlock()
		cancel()
		fetcher.Close()
		return nil
	}
	c.cancel = cancel
	c.state.Status = domain.StatusRunning
	c.state.StartedAt = time.Now()
	c.state.PlannedTotal = planned
	c.state.CachedCount = cached
	ev := c.eventLocked()
	c.mu.Unlock()
	c.notify(ev)

	utils.Logger.Info("session started",
		"session", c.id,
		"profile", c.profileName,
		"topic", c.req.Topic,
		"mode", c.req.Mode,
		"planned", planned,
	)

	go c.run(runCtx, fetcher)
	return nil
}

// plan resolves watermarks, computes per-partition ranges and advances range
// starts past offsets already present in the cache so a resumed session
// never refetches cached records.
func (c *Coordinator) plan(ctx context.Context) (map[int32]domain.OffsetRange, int64, int64, error) {
	td, err := c.meta.DescribeTopic(ctx, c.req.Topic)
	if err != nil {
		return nil, 0, 0, err
	}

	var tsOffsets map[int32]int64
	if c.req.Mode == domain.ModeFromTimestamp {
		targets := c.req.Partitions
		if len(targets) == 0 {
			targets = td.PartitionIDs()
		}
		tsOffsets, err = c.meta.OffsetsAfter(ctx, c.req.Topic, c.req.Timestamp, targets)
		if err != nil {
			return nil, 0, 0, err
		}
	}

	ranges, err := domain.PlanOffsets(td, c.req, tsOffsets)
	if err != nil {
		return nil, 0, 0, err
	}
	planned := domain.PlannedTotal(ranges)

	cursors, err := c.store.PartitionCursors(ctx, c.id)
	if err != nil {
		return nil, 0, 0, err
	}
	for p, last := range cursors {
		r, ok := ranges[p]
		if !ok || last+1 <= r.Start {
			continue
		}
		r.Start = last + 1
		if !r.Open && r.Start > r.End {
			r.Start = r.End
		}
		ranges[p] = r
	}

	var cached int64
	if len(cursors) > 0 {
		cached, err = c.store.Count(ctx, c.id, nil)
		if err != nil {
			return nil, 0, 0, err
		}
		c.mu.Lock()
		for p, last := range cursors {
			c.state.Cursors[p] = last
		}
		c.mu.Unlock()
	}
	return ranges, planned, cached, nil
}

// run is the writer half of the pipeline. The fetch goroutine feeds batches
// through a bounded channel; when the channel is full, fetching blocks until
// a flush drains it.
func (c *Coordinator) run(ctx context.Context, fetcher domain.Fetcher) {
	defer c.closeDone()
	defer c.closeEvents()
	defer c.meta.Close()
	defer fetcher.Close()

	batches := make(chan []domain.CachedMessage, c.engine.InFlightBatches)
	errCh := make(chan error, 1)

	go c.fetchLoop(ctx, fetcher, batches, errCh)

	var fatal error
	for batch := range batches {
		if err := c.flush(batch); err != nil {
			fatal = err
			break
		}
	}
	if fatal != nil {
		// Unblock the fetch goroutine and discard whatever it had queued.
		if cancel := c.cancelFn(); cancel != nil {
			cancel()
		}
		for range batches {
		}
	} else {
		select {
		case fatal = <-errCh:
		default:
		}
	}

	c.finish(ctx, fatal)
}

// fetchLoop polls until every bounded partition is exhausted or the context
// is cancelled. Transient broker errors are retried with exponential
// backoff; anything else stops the session.
func (c *Coordinator) fetchLoop(ctx context.Context, fetcher domain.Fetcher, batches chan<- []domain.CachedMessage, errCh chan<- error) {
	defer close(batches)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.engine.InitialBackoff
	bo.MaxInterval = c.engine.MaxBackoff
	bo.MaxElapsedTime = 0
	var attempts uint64

	for {
		if ctx.Err() != nil || fetcher.Done() {
			return
		}

		batch, err := fetcher.PollBatch(ctx, c.engine.BatchSize)
		if len(batch) > 0 {
			select {
			case batches <- batch:
			case <-ctx.Done():
				return
			}
		}
		if err == nil {
			attempts = 0
			bo.Reset()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if domain.KindOf(err) == domain.ErrorBrokerUnreachable && attempts < c.engine.MaxRetries {
			attempts++
			wait := bo.NextBackOff()
			utils.Logger.Warn("transient poll failure",
				"session", c.id,
				"topic", c.req.Topic,
				"attempt", attempts,
				"backoff", wait,
				"err", err,
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
			continue
		}

		errCh <- err
		return
	}
}

// flush persists one batch atomically and advances cursors. The insert runs
// on a background context: cancellation takes effect between batches, never
// inside a transaction.
func (c *Coordinator) flush(batch []domain.CachedMessage) error {
	for i := range batch {
		batch[i].SessionID = c.id
	}
	inserted, err := c.store.InsertBatch(context.Background(), c.id, batch)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for i := range batch {
		m := &batch[i]
		if last, ok := c.state.Cursors[m.Partition]; !ok || m.Offset > last {
			c.state.Cursors[m.Partition] = m.Offset
		}
	}
	c.state.CachedCount += inserted
	ev := c.eventLocked()
	c.mu.Unlock()

	c.notify(ev)
	return nil
}

func (c *Coordinator) finish(ctx context.Context, fatal error) {
	c.mu.Lock()
	switch {
	case fatal != nil:
		c.state.Status = domain.StatusFailed
		c.setErrLocked(fatal)
	case ctx.Err() != nil:
		c.state.Status = domain.StatusCancelled
	default:
		c.state.Status = domain.StatusCompleted
	}
	c.state.FinishedAt = time.Now()
	status := c.state.Status
	cached := c.state.CachedCount
	ev := c.eventLocked()
	c.mu.Unlock()
	c.notify(ev)

	switch status {
	case domain.StatusFailed:
		utils.Logger.Error("session failed", "session", c.id, "topic", c.req.Topic, "cached", cached, "err", fatal)
	default:
		utils.Logger.Info("session stopped", "session", c.id, "topic", c.req.Topic, "status", status, "cached", cached)
	}
}

// fail moves a session that never reached RUNNING to FAILED.
func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	if c.state.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state.Status = domain.StatusFailed
	c.setErrLocked(err)
	c.state.FinishedAt = time.Now()
	ev := c.eventLocked()
	c.mu.Unlock()
	c.notify(ev)
	c.closeEvents()
	c.meta.Close()
	c.closeDone()
	utils.Logger.Error("session failed to start", "session", c.id, "topic", c.req.Topic, "err", err)
}

func (c *Coordinator) setErrLocked(err error) {
	if ee, ok := err.(*domain.EngineError); ok {
		c.state.Err = ee
	} else {
		c.state.Err = domain.NewError(domain.ErrorBrokerUnreachable, "session.run", err)
	}
	c.state.ErrDetail = c.state.Err.Error()
}

// Cancel requests a stop. Running sessions stop at the next batch boundary;
// a PENDING session that was never started becomes CANCELLED immediately.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	if c.state.Status == domain.StatusPending && c.cancel == nil {
		c.state.Status = domain.StatusCancelled
		c.state.FinishedAt = time.Now()
		ev := c.eventLocked()
		c.mu.Unlock()
		c.notify(ev)
		c.closeEvents()
		c.meta.Close()
		c.closeDone()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the session reaches a terminal status.
func (c *Coordinator) Wait() {
	<-c.done
}

// State returns a snapshot safe to hand to callers.
func (c *Coordinator) State() domain.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.Cursors = make(map[int32]int64, len(c.state.Cursors))
	for p, o := range c.state.Cursors {
		st.Cursors[p] = o
	}
	return st
}

// Events exposes the progress stream. The channel closes when the session
// reaches a terminal status.
func (c *Coordinator) Events() <-chan domain.ProgressEvent {
	return c.events
}

// notify delivers without blocking. A full buffer evicts the oldest event
// so the newest state, terminal status included, is always buffered.
func (c *Coordinator) notify(ev domain.ProgressEvent) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

func (c *Coordinator) closeEvents() {
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *Coordinator) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) eventLocked() domain.ProgressEvent {
	ev := domain.ProgressEvent{
		SessionID:    c.id,
		Status:       c.state.Status,
		CachedCount:  c.state.CachedCount,
		PlannedTotal: c.state.PlannedTotal,
	}
	if c.state.Err != nil {
		ev.Err = c.state.Err.Error()
	}
	return ev
}

func (c *Coordinator) cancelFn() context.CancelFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancel
}
