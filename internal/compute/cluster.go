// Package compute provides the training backend handle: a bounded worker
// pool that is started before model search begins and explicitly torn down
// when the run ends.
package compute

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrAlreadyStarted is returned by Start on a running cluster.
	ErrAlreadyStarted = errors.New("compute: cluster already started")
	// ErrNotStarted is returned when Submit or Shutdown precede Start.
	ErrNotStarted = errors.New("compute: cluster not started")
	// ErrStopped is returned by Submit once shutdown has begun.
	ErrStopped = errors.New("compute: cluster shut down")
)

// Job is a unit of training work executed on the cluster.
type Job func(ctx context.Context) error

// Config sizes the cluster.
type Config struct {
	Workers    int // default: runtime.NumCPU()
	QueueDepth int // default: 2*Workers
}

// Stats is a snapshot of cluster activity.
type Stats struct {
	Workers       int           `json:"workers"`
	JobsSubmitted int64         `json:"jobs_submitted"`
	JobsCompleted int64         `json:"jobs_completed"`
	JobsFailed    int64         `json:"jobs_failed"`
	BusyTime      time.Duration `json:"busy_time"`
}

// Cluster is the scoped training backend. Lifecycle: NewCluster, Start,
// any number of Submit calls, Shutdown. Shutdown drains queued jobs unless
// its context expires first, in which case queued work is dropped.
type Cluster struct {
	cfg Config

	mu       sync.RWMutex
	started  bool
	stopping bool
	stats    Stats

	jobs    chan Job
	quiesce chan struct{}
	stopCh  chan struct{}
	pending sync.WaitGroup
	wg      sync.WaitGroup
}

// NewCluster creates a cluster; zero config fields take defaults.
func NewCluster(cfg Config) *Cluster {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 2 * cfg.Workers
	}
	return &Cluster{
		cfg:     cfg,
		jobs:    make(chan Job, cfg.QueueDepth),
		quiesce: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers. ctx is the base context every job receives.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.stats.Workers = c.cfg.Workers

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	return nil
}

// Submit enqueues a job. It blocks while the queue is full and aborts on
// ctx cancellation or cluster shutdown.
func (c *Cluster) Submit(ctx context.Context, job Job) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.stopping {
		c.mu.Unlock()
		return ErrStopped
	}
	c.pending.Add(1)
	c.stats.JobsSubmitted++
	c.mu.Unlock()

	select {
	case c.jobs <- job:
		return nil
	case <-ctx.Done():
		c.pending.Done()
		return ctx.Err()
	case <-c.quiesce:
		c.pending.Done()
		return ErrStopped
	}
}

// Shutdown stops intake, waits for queued and in-flight jobs, then stops the
// workers. If ctx expires first, queued jobs are dropped and in-flight jobs
// are still waited for. Idempotent after the first call.
func (c *Cluster) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	close(c.quiesce)
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		close(c.stopCh)
		c.wg.Wait()
		return nil
	case <-ctx.Done():
		close(c.stopCh)
		c.wg.Wait()
		c.dropQueued()
		<-drained
		return fmt.Errorf("compute: shutdown incomplete, queued jobs dropped: %w", ctx.Err())
	}
}

// Stats returns a point-in-time snapshot.
func (c *Cluster) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cluster) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case job := <-c.jobs:
			c.run(ctx, job)
		}
	}
}

func (c *Cluster) run(ctx context.Context, job Job) {
	defer c.pending.Done()
	start := time.Now()
	err := job(ctx)

	c.mu.Lock()
	c.stats.BusyTime += time.Since(start)
	if err != nil {
		c.stats.JobsFailed++
	} else {
		c.stats.JobsCompleted++
	}
	c.mu.Unlock()
}

// dropQueued releases jobs still sitting in the queue after a hard stop so
// the pending waiter can finish.
func (c *Cluster) dropQueued() {
	for {
		select {
		case <-c.jobs:
			c.pending.Done()
		default:
			return
		}
	}
}
