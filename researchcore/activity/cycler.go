package activity

import (
	"context"
	"sync"
	"time"

	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// DefaultInterval is the reference cycling period.
const DefaultInterval = 3 * time.Second

// Source supplies the latest snapshot for a job. The cycler recomputes the
// pool from it on every tick, so cycling is over a live set, not a frozen
// one. A nil return is valid before the first observation arrives.
type Source func() *telemetry.Snapshot

// Cycler rotates through the activity pool on a fixed interval. The index
// resets to 0 whenever the canonical stage changes and wraps modulo the live
// pool size between ticks. The timer is owned by the cycler: Run ties it to
// a context and Stop tears it down, so no callback can fire against a
// torn-down consumer.
//
// Advance/Current are safe for concurrent use with Run.
type Cycler struct {
	source   Source
	interval time.Duration

	mu    sync.Mutex
	index int
	stage stage.Stage

	out      chan string
	stop     chan struct{}
	stopOnce sync.Once
}

// NewCycler creates a cycler over the given snapshot source. A non-positive
// interval falls back to DefaultInterval.
func NewCycler(source Source, interval time.Duration) *Cycler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Cycler{
		source:   source,
		interval: interval,
		out:      make(chan string, 1),
		stop:     make(chan struct{}),
	}
}

// Advance performs one cycling step and returns the message to display.
// It never fails: an empty pool yields the stage's default subtitle.
func (c *Cycler) Advance() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.source()
	if snap == nil {
		return DefaultSubtitle(stage.StagePlan)
	}
	if snap.Stage != c.stage {
		c.stage = snap.Stage
		c.index = 0
	} else {
		c.index++
	}
	pool := Pool(snap)
	if len(pool) == 0 {
		return DefaultSubtitle(snap.Stage)
	}
	c.index %= len(pool)
	return pool[c.index]
}

// Current returns the message at the present index without advancing.
func (c *Cycler) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.source()
	if snap == nil {
		return DefaultSubtitle(stage.StagePlan)
	}
	pool := Pool(snap)
	if len(pool) == 0 {
		return DefaultSubtitle(snap.Stage)
	}
	return pool[c.index%len(pool)]
}

// Run drives the cycler with its own ticker until the context is done or
// Stop is called, emitting each message on Messages. Emission is lossy: a
// slow consumer only ever sees the latest line.
func (c *Cycler) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			msg := c.Advance()
			select {
			case c.out <- msg:
			default:
				// Drop the stale line and replace it.
				select {
				case <-c.out:
				default:
				}
				select {
				case c.out <- msg:
				default:
				}
			}
		}
	}
}

// Messages returns the channel Run emits on.
func (c *Cycler) Messages() <-chan string {
	return c.out
}

// Stop tears the cycler down. Safe to call more than once.
func (c *Cycler) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
