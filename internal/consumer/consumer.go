// Package consumer pulls captured payloads off the queue and hands them
// to the price service, guarded by a circuit breaker so sustained
// storage failures back the pipeline off instead of burning the queue.
package consumer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dofus-hdv/internal/logger"
	"dofus-hdv/internal/metrics"
	"dofus-hdv/internal/queue"
	"dofus-hdv/internal/service"
)

// ErrCircuitOpen is returned while the breaker refuses work. The
// scheduler checks it by identity and skips the tick.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker state.
type State int32

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

// Processor is the slice of the price service the consumer drives.
type Processor interface {
	ProcessPacket(payload []byte) (int, error)
	ProcessBatch(payloads [][]byte) (int, error)
}

// Stats is a snapshot of the consumer's counters.
type Stats struct {
	PacketsProcessed int64  `json:"packets_processed"`
	EntriesPersisted int64  `json:"entries_persisted"`
	Errors           int64  `json:"errors"`
	CircuitState     string `json:"circuit_state"`
}

// Consumer polls the packet queue and processes payloads.
type Consumer struct {
	q           *queue.Queue
	proc        Processor
	batchSize   int
	pollTimeout time.Duration

	// breaker
	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	probing   bool // a half-open probe is in flight

	packetsProcessed atomic.Int64
	entriesPersisted atomic.Int64
	errors           atomic.Int64
}

// New builds a consumer over q and proc.
func New(q *queue.Queue, proc Processor, batchSize int, pollTimeout time.Duration, breakerThreshold int, breakerCooldown time.Duration) *Consumer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Consumer{
		q:           q,
		proc:        proc,
		batchSize:   batchSize,
		pollTimeout: pollTimeout,
		threshold:   breakerThreshold,
		cooldown:    breakerCooldown,
	}
}

// ConsumeOne processes at most one payload. Returns the number of
// entries persisted and whether a payload was taken off the queue;
// processed is false when the queue yielded nothing within the poll
// timeout.
func (c *Consumer) ConsumeOne() (persisted int, processed bool, err error) {
	if err := c.allow(); err != nil {
		return 0, false, err
	}
	payload, ok := c.q.Poll(c.pollTimeout)
	if !ok {
		c.releaseProbe()
		return 0, false, nil
	}
	c.packetsProcessed.Add(1)
	metrics.PacketsProcessed.Inc()

	n, err := c.proc.ProcessPacket(payload)
	if errors.Is(err, service.ErrParse) {
		// Bad frame, not a storage problem: drop it. The failure streak
		// tracks storage health only, so neither reset nor increment.
		logger.Debug("CONS", fmt.Sprintf("dropped unparseable packet: %v", err))
		c.releaseProbe()
		return 0, true, nil
	}
	if err != nil {
		c.recordFailure(err)
		return 0, false, err
	}
	c.entriesPersisted.Add(int64(n))
	c.recordSuccess()
	return n, true, nil
}

// ConsumeBatch collects up to batchSize payloads within the poll deadline
// and processes them as one batch. Returns entries persisted.
func (c *Consumer) ConsumeBatch() (int, error) {
	if err := c.allow(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(c.pollTimeout)
	var batch [][]byte
	for len(batch) < c.batchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		p, ok := c.q.Poll(remaining)
		if !ok {
			break
		}
		batch = append(batch, p)
		// After the first payload, sweep whatever else is already buffered.
		if rest := c.q.Drain(c.batchSize - len(batch)); len(rest) > 0 {
			batch = append(batch, rest...)
		}
	}
	if len(batch) == 0 {
		c.releaseProbe()
		return 0, nil
	}
	c.packetsProcessed.Add(int64(len(batch)))
	metrics.PacketsProcessed.Add(float64(len(batch)))

	n, err := c.proc.ProcessBatch(batch)
	if err != nil {
		var be *service.BatchError
		if errors.As(err, &be) && be.StorageFailures == 0 {
			// Every packet was an unparseable frame: drop the batch. Like
			// the single-packet path, parse errors neither reset nor
			// increment the storage failure streak.
			logger.Debug("CONS", fmt.Sprintf("dropped %d unparseable packets", be.Failed))
			c.releaseProbe()
			return 0, nil
		}
		c.recordFailure(err)
		return 0, err
	}
	c.entriesPersisted.Add(int64(n))
	c.recordSuccess()
	return n, nil
}

// Drain consumes batches until the queue is empty or the first error.
func (c *Consumer) Drain() (int, error) {
	total := 0
	for {
		if c.q.Len() == 0 {
			return total, nil
		}
		n, err := c.ConsumeBatch()
		if err != nil {
			return total, err
		}
		if n == 0 && c.q.Len() == 0 {
			return total, nil
		}
	}
}

// Stats returns a snapshot of the counters and breaker state.
func (c *Consumer) Stats() Stats {
	return Stats{
		PacketsProcessed: c.packetsProcessed.Load(),
		EntriesPersisted: c.entriesPersisted.Load(),
		Errors:           c.errors.Load(),
		CircuitState:     c.CircuitState().String(),
	}
}

// CircuitState returns the current breaker state, moving Open to
// HalfOpen once the cooldown has elapsed.
func (c *Consumer) CircuitState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Open && time.Since(c.openedAt) >= c.cooldown {
		return HalfOpen
	}
	return c.state
}

// allow gates work on the breaker. In Open it refuses until the cooldown
// elapses, then permits exactly one probe at a time in HalfOpen;
// concurrent callers are refused until the probe resolves.
func (c *Consumer) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Closed:
		return nil
	case HalfOpen:
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
		return nil
	default:
		if time.Since(c.openedAt) < c.cooldown {
			return ErrCircuitOpen
		}
		c.setStateLocked(HalfOpen)
		c.probing = true
		logger.Info("CONS", "breaker half-open, probing")
		return nil
	}
}

// releaseProbe frees the half-open probe slot when a permitted call
// ends without a storage outcome (empty queue, dropped frames).
func (c *Consumer) releaseProbe() {
	c.mu.Lock()
	c.probing = false
	c.mu.Unlock()
}

func (c *Consumer) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probing = false
	c.failures = 0
	if c.state != Closed {
		logger.Success("CONS", "breaker closed")
	}
	c.setStateLocked(Closed)
}

func (c *Consumer) recordFailure(err error) {
	c.errors.Add(1)
	metrics.ConsumerErrors.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.probing = false
	c.failures++
	if c.state == HalfOpen || c.failures >= c.threshold {
		c.setStateLocked(Open)
		c.openedAt = time.Now()
		logger.Error("CONS", fmt.Sprintf("breaker open after %d consecutive failures: %v", c.failures, err))
	}
}

func (c *Consumer) setStateLocked(s State) {
	c.state = s
	metrics.CircuitState.Set(float64(s.stateMetric()))
}

func (s State) stateMetric() int {
	switch s {
	case Closed:
		return 0
	case HalfOpen:
		return 1
	default:
		return 2
	}
}
