// Package analytics aggregates admission outcomes per UTC day and ships them
// to an external store in batches.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chartgate/chartgate/internal/clock"
	"github.com/chartgate/chartgate/pkg/logger"
)

// Flusher persists one day's outcome counts.
type Flusher interface {
	FlushDecisions(ctx context.Context, day string, counts map[string]int64) error
}

// Config holds configuration for the DecisionCounter.
type Config struct {
	FlushInterval time.Duration // How often to flush accumulated counts
	BatchSize     int           // Flush when this many decisions are pending
	ChannelBuffer int           // Size of the decision channel buffer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 10 * time.Second,
		BatchSize:     100,
		ChannelBuffer: 10000,
	}
}

type decision struct {
	day     string
	outcome string
}

// Option configures a DecisionCounter.
type Option func(*DecisionCounter)

// WithClock sets the time source used to stamp decisions.
func WithClock(c clock.Clock) Option {
	return func(d *DecisionCounter) { d.clock = c }
}

// WithLogger sets the logger for flush failures.
func WithLogger(l *logger.Logger) Option {
	return func(d *DecisionCounter) { d.log = l }
}

// DecisionCounter provides non-blocking, batched outcome counting.
type DecisionCounter struct {
	flusher Flusher
	cfg     Config
	clock   clock.Clock
	log     *logger.Logger

	events  chan decision
	counts  map[string]map[string]int64 // day -> outcome -> n
	mu      sync.Mutex
	pending int

	dropped atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
	stopped  atomic.Bool
}

// NewDecisionCounter creates a DecisionCounter and starts its flush loop.
func NewDecisionCounter(cfg Config, flusher Flusher, opts ...Option) *DecisionCounter {
	def := DefaultConfig()
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = def.ChannelBuffer
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	c := &DecisionCounter{
		flusher:  flusher,
		cfg:      cfg,
		clock:    clock.SystemClock{},
		log:      logger.Nop(),
		events:   make(chan decision, cfg.ChannelBuffer),
		counts:   make(map[string]map[string]int64),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run()
	return c
}

// RecordDecision records one outcome against the current UTC day (non-blocking).
func (c *DecisionCounter) RecordDecision(outcome string) {
	if c.stopped.Load() {
		return
	}

	ev := decision{
		day:     c.clock.Now().UTC().Format(time.DateOnly),
		outcome: outcome,
	}

	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many decisions were discarded because the buffer was full.
func (c *DecisionCounter) Dropped() int64 {
	return c.dropped.Load()
}

// Stop stops the counter and flushes remaining counts.
func (c *DecisionCounter) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopChan)
		<-c.doneChan
	})
}

// snapshot returns a copy of unflushed counts keyed by day then outcome.
func (c *DecisionCounter) snapshot() map[string]map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]map[string]int64, len(c.counts))
	for day, byOutcome := range c.counts {
		cp := make(map[string]int64, len(byOutcome))
		for k, v := range byOutcome {
			cp[k] = v
		}
		out[day] = cp
	}
	return out
}

func (c *DecisionCounter) run() {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.events:
			if c.add(ev) {
				c.flush()
			}

		case <-ticker.C:
			c.flush()

		case <-c.stopChan:
			c.drain()
			c.flush()
			return
		}
	}
}

// add counts ev and reports whether the batch is full.
func (c *DecisionCounter) add(ev decision) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	byOutcome, ok := c.counts[ev.day]
	if !ok {
		byOutcome = make(map[string]int64)
		c.counts[ev.day] = byOutcome
	}
	byOutcome[ev.outcome]++
	c.pending++
	return c.pending >= c.cfg.BatchSize
}

func (c *DecisionCounter) drain() {
	for {
		select {
		case ev := <-c.events:
			c.add(ev)
		default:
			return
		}
	}
}

func (c *DecisionCounter) flush() {
	c.mu.Lock()
	if len(c.counts) == 0 {
		c.mu.Unlock()
		return
	}
	toFlush := c.counts
	c.counts = make(map[string]map[string]int64)
	c.pending = 0
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for day, counts := range toFlush {
		if err := c.flusher.FlushDecisions(ctx, day, counts); err != nil {
			c.log.Warn("failed to flush admission decisions",
				"day", day,
				"error", err.Error(),
			)
		}
	}
}

// NopRecorder discards decisions. Used when analytics is disabled.
type NopRecorder struct{}

// RecordDecision does nothing.
func (NopRecorder) RecordDecision(string) {}

// Stop does nothing.
func (NopRecorder) Stop() {}
