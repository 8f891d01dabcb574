// Package scheduler drives the consumer on a fixed cadence and hosts the
// worker pool for on-demand drains.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dofus-hdv/internal/consumer"
	"dofus-hdv/internal/logger"
	"dofus-hdv/internal/metrics"
	"dofus-hdv/internal/queue"
)

// Scheduler ticks the consumer with fixed-delay semantics: the next tick
// is armed only after the previous one finishes, so ticks never overlap.
type Scheduler struct {
	cons          *consumer.Consumer
	q             *queue.Queue
	interval      time.Duration
	batchMode     bool
	warnThreshold int
	pool          *WorkerPool
}

// New builds a scheduler over cons and q with its own worker pool.
func New(cons *consumer.Consumer, q *queue.Queue, interval time.Duration, batchMode bool, warnThreshold int, workers int) *Scheduler {
	return &Scheduler{
		cons:          cons,
		q:             q,
		interval:      interval,
		batchMode:     batchMode,
		warnThreshold: warnThreshold,
		pool:          NewWorkerPool(workers),
	}
}

// Run loops until ctx is cancelled. Blocking; callers run it in a
// goroutine and Stop the pool after cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Tick()
			timer.Reset(s.interval)
		}
	}
}

// Tick performs one scheduled pass: report queue pressure, then consume
// if anything is buffered.
func (s *Scheduler) Tick() {
	depth := s.q.Len()
	metrics.QueueDepth.Set(float64(depth))
	metrics.QueueUtilisation.Set(s.q.Utilisation())

	if s.warnThreshold > 0 && depth > s.warnThreshold {
		logger.Warn("SCHED", fmt.Sprintf("queue depth %d above threshold %d", depth, s.warnThreshold))
	}
	if depth == 0 {
		return
	}

	var persisted int
	var err error
	if s.batchMode {
		persisted, err = s.cons.ConsumeBatch()
	} else {
		persisted, _, err = s.cons.ConsumeOne()
	}
	switch {
	case errors.Is(err, consumer.ErrCircuitOpen):
		logger.Warn("SCHED", "breaker open, skipping tick")
	case err != nil:
		logger.Error("SCHED", fmt.Sprintf("tick failed: %v", err))
	case persisted > 0:
		st := s.cons.Stats()
		logger.Info("SCHED", fmt.Sprintf("persisted %d entries (total packets=%d entries=%d errors=%d)",
			persisted, st.PacketsProcessed, st.EntriesPersisted, st.Errors))
	}
}

// RequestDrain schedules a full queue drain on the worker pool so the
// caller (and the tick loop) is not blocked by it.
func (s *Scheduler) RequestDrain() {
	s.pool.Submit(func() {
		n, err := s.cons.Drain()
		if err != nil && !errors.Is(err, consumer.ErrCircuitOpen) {
			logger.Error("SCHED", fmt.Sprintf("drain failed after %d entries: %v", n, err))
			return
		}
		if n > 0 {
			logger.Success("SCHED", fmt.Sprintf("drained queue: %d entries persisted", n))
		}
	})
}

// Stop joins the worker pool. Run must already have returned.
func (s *Scheduler) Stop() {
	s.pool.Stop()
}
