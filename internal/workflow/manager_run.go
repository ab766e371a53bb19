package workflow

import (
	"context"
	"errors"
	"time"

	"vidpilot/internal/logging"
)

// Start releases leases left by a previous run, starts the worker pool and
// the sweep, heartbeat and notification loops, and queues every resumable
// job.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.deps.Runner == nil {
		m.mu.Unlock()
		return errors.New("workflow stage runner not configured")
	}

	released, err := m.store.ReleaseAll(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if released > 0 {
		m.logger.Info("released leases from previous run", logging.Int("count", int(released)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.queue = make(chan string, queueCapacity)
	m.wg.Add(m.workers + 3)
	m.mu.Unlock()

	m.runPreflightChecks(runCtx)

	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx)
	}
	go m.runSweeper(runCtx)
	go func() {
		defer m.wg.Done()
		m.heartbeat.Run(runCtx, m.inflightIDs)
	}()
	go m.forwardNotifications(runCtx)

	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.Duration("poll_interval", m.pollInterval),
		logging.String("owner", m.owner),
	)
	return nil
}

// Stop terminates background processing and waits for workers to return.
// Jobs interrupted mid-stage keep their state and resume on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Submit queues a job for processing. It never blocks: a job already queued
// is left alone, a job in flight is re-queued once its worker finishes, and
// when the queue is full the next sweep picks the job up.
func (m *Manager) Submit(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if _, busy := m.inflight[id]; busy {
		m.requeue[id] = struct{}{}
		return
	}
	if _, ok := m.queued[id]; ok {
		return
	}
	select {
	case m.queue <- id:
		m.queued[id] = struct{}{}
	default:
		m.logger.Debug("work queue full; deferring job to next sweep", logging.Job(id))
	}
}

func (m *Manager) runWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.runJob(ctx, id)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.queued, id)
	if _, busy := m.inflight[id]; busy {
		m.requeue[id] = struct{}{}
		m.mu.Unlock()
		return
	}
	run := newInflightJob()
	m.inflight[id] = run
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		_, again := m.requeue[id]
		delete(m.requeue, id)
		m.mu.Unlock()
		// A cancel that lands after the last re-read is applied on the next pass.
		select {
		case <-run.cancelled:
			again = true
		default:
		}
		if again && ctx.Err() == nil {
			m.Submit(id)
		}
		m.checkQueueCompletion(context.WithoutCancel(ctx))
	}()

	claimed, err := m.store.Claim(ctx, id, m.owner, m.leaseTimeout)
	if err != nil {
		if ctx.Err() == nil {
			m.setLastError(err)
			logging.ErrorWithContext(m.logger, "job claim failed", "job_claim_failed",
				logging.Job(id),
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.Error(err),
			)
		}
		return
	}
	if !claimed {
		m.logger.Debug("job leased elsewhere or finished; skipping", logging.Job(id))
		return
	}
	defer func() {
		if err := m.store.Release(context.WithoutCancel(ctx), id, m.owner); err != nil {
			m.logger.Warn("lease release failed", logging.Job(id), logging.Error(err))
		}
	}()

	m.onJobStarted(ctx)
	m.advance(ctx, run.cancelled, id)
}

func (m *Manager) runSweeper(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		m.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep queues every resumable job, expires stale approvals and retries
// undelivered approval requests.
func (m *Manager) sweep(ctx context.Context) {
	pending, err := m.store.ListByState(ctx, resumableStates...)
	if err != nil {
		if ctx.Err() == nil {
			m.setLastError(err)
			logging.ErrorWithContext(m.logger, "failed to list resumable jobs", "sweep_failed",
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.Error(err),
			)
		}
		return
	}
	for _, job := range pending {
		m.Submit(job.ID)
	}
	if m.deps.Approval == nil {
		return
	}
	if n, err := m.deps.Approval.ExpireStale(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("approval expiry sweep failed", logging.Error(err))
	} else if n > 0 {
		m.logger.Info("expired stale approval requests", logging.Int("count", n))
	}
	if n, err := m.deps.Approval.Resume(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("approval resume failed", logging.Error(err))
	} else if n > 0 {
		m.logger.Info("re-sent pending approval requests", logging.Int("count", n))
	}
}

func (m *Manager) inflightIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.inflight))
	for id := range m.inflight {
		ids = append(ids, id)
	}
	return ids
}
