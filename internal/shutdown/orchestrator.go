// Package shutdown coordinates staged teardown of the ingestion pipeline:
// stop intake, drain in-flight work, force-cancel stragglers, dispose.
package shutdown

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the orchestrator lifecycle phase.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateForceCancelling
	StateDisposed
)

// String returns the phase name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateForceCancelling:
		return "force_cancelling"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Config holds the layered shutdown timeouts.
type Config struct {
	DrainTimeout    time.Duration
	CancelTimeout   time.Duration
	WatchdogTimeout time.Duration
}

// DefaultConfig returns the standard timeouts: five seconds to drain, two
// more to cancel, a ten-second watchdog over the whole sequence.
func DefaultConfig() Config {
	return Config{
		DrainTimeout:    5 * time.Second,
		CancelTimeout:   2 * time.Second,
		WatchdogTimeout: 10 * time.Second,
	}
}

// Pool is the worker-pool surface the orchestrator drives.
type Pool interface {
	StopPulling()
	CancelProcessing()
	Wait(ctx context.Context) error
}

// Queue is the drain surface of the work queue.
type Queue interface {
	WaitIdle(ctx context.Context) error
	Len() int
	Close()
}

// Closer releases one resource during disposal.
type Closer struct {
	Name  string
	Close func() error
}

// Orchestrator runs the staged shutdown exactly once, no matter how many
// triggers fire.
type Orchestrator struct {
	cfg    Config
	pool   Pool
	queue  Queue
	intake []Closer
	closer []Closer
	logger *zap.Logger

	state atomic.Int32
	once  sync.Once
	done  chan struct{}

	// exit is overridable for tests; the watchdog calls it when the
	// sequence wedges.
	exit func(code int)
}

// New constructs an orchestrator. Intake closers run first, before the
// drain, so no new events arrive while outstanding work completes. Disposal
// closers run in order at the end; register the store last.
func New(cfg Config, pool Pool, queue Queue, intake, closers []Closer, logger *zap.Logger) *Orchestrator {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultConfig().CancelTimeout
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultConfig().WatchdogTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		pool:   pool,
		queue:  queue,
		intake: intake,
		closer: closers,
		logger: logger.With(zap.String("component", "shutdown")),
		done:   make(chan struct{}),
		exit:   os.Exit,
	}
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Done is closed once disposal completes.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Trigger starts the shutdown sequence. Subsequent calls are no-ops; every
// caller can wait on Done.
func (o *Orchestrator) Trigger(reason string) {
	o.once.Do(func() {
		o.logger.Info("shutdown triggered", zap.String("reason", reason))
		go o.watchdog()
		o.run()
	})
}

func (o *Orchestrator) run() {
	defer close(o.done)

	o.state.Store(int32(StateDraining))
	for _, c := range o.intake {
		if err := c.Close(); err != nil {
			o.logger.Warn("stop intake", zap.String("resource", c.Name), zap.Error(err))
		}
	}
	o.pool.StopPulling()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
	defer cancelDrain()
	if err := o.queue.WaitIdle(drainCtx); err != nil {
		o.logger.Warn("drain window elapsed with work outstanding",
			zap.Int("queue_depth", o.queue.Len()),
			zap.Error(err),
		)
	} else {
		o.logger.Info("queue drained")
	}

	o.state.Store(int32(StateForceCancelling))
	o.pool.CancelProcessing()

	cancelCtx, cancelWait := context.WithTimeout(context.Background(), o.cfg.CancelTimeout)
	defer cancelWait()
	if err := o.pool.Wait(cancelCtx); err != nil {
		o.logger.Warn("workers did not stop within cancel window", zap.Error(err))
	}

	o.queue.Close()
	for _, c := range o.closer {
		if err := c.Close(); err != nil {
			o.logger.Warn("close resource", zap.String("resource", c.Name), zap.Error(err))
		}
	}

	o.state.Store(int32(StateDisposed))
	o.logger.Info("shutdown complete")
}

// watchdog force-exits the process if the sequence does not finish inside
// the watchdog window.
func (o *Orchestrator) watchdog() {
	timer := time.NewTimer(o.cfg.WatchdogTimeout)
	defer timer.Stop()
	select {
	case <-o.done:
	case <-timer.C:
		o.logger.Error("shutdown watchdog fired, forcing exit",
			zap.Duration("timeout", o.cfg.WatchdogTimeout),
			zap.String("state", o.State().String()),
		)
		o.exit(1)
	}
}
