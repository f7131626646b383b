package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrObserverFailed is returned by Run when consecutive observer errors
// reached the configured limit and the coordinator drained.
var ErrObserverFailed = errors.New("observer failed repeatedly")

// State is the coordinator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CoordinatorConfig tunes the control loop.
type CoordinatorConfig struct {
	PollInterval time.Duration

	// Retention is the state horizon. Zero disables purging.
	Retention time.Duration

	// PurgeInterval re-runs the retention purge between ticks. Zero purges
	// only during initialization.
	PurgeInterval time.Duration

	// MaxConsecutiveErrors drains the loop after that many observer errors in
	// a row. Zero never drains on observer errors.
	MaxConsecutiveErrors int

	// DiagnosticsEvery logs a stats line every N heartbeats. Zero disables it.
	DiagnosticsEvery int

	// FinalizeAttempts bounds the finalize retries per sink while draining.
	FinalizeAttempts int
}

// Coordinator drives poll, classify, journal and dispatch. It is the single
// writer of the fingerprint store; Stats may be read concurrently.
type Coordinator struct {
	cfg        CoordinatorConfig
	store      FingerprintStore
	observer   Poller
	engine     *ClassifierEngine
	dispatcher *SinkDispatcher
	clock      Clock
	logger     Logger
	metrics    Metrics

	mu    sync.RWMutex
	state State
	stats Stats

	consecutiveErrs int
	heartbeats      int
	lastPurge       time.Time
}

// NewCoordinator wires the loop over an already opened store.
func NewCoordinator(cfg CoordinatorConfig, store FingerprintStore, observer Poller, engine *ClassifierEngine, dispatcher *SinkDispatcher, clock Clock, logger Logger, metrics Metrics) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		observer:   observer,
		engine:     engine,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     WithComponent(logger, "coordinator"),
		metrics:    metrics,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns a snapshot of loop counters.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.State = c.state
	s.ActiveSinks = slices.Clone(c.stats.ActiveSinks)
	return s
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Info("state changed", "from", prev, "to", s)
}

func (c *Coordinator) update(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Run initializes, loops until ctx is cancelled or the observer fails
// repeatedly, then drains. Cancellation is only observed between ticks.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		c.setState(StateStopped)
		return err
	}

	loopErr := c.loop(ctx)

	if err := c.Drain(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("drain finished with errors", "error", err)
	}
	return loopErr
}

// Initialize runs the retention purge and initializes the sinks. A purge
// failure is fatal; sink failures only exclude the sink.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.setState(StateInitializing)

	if err := c.purge(ctx); err != nil {
		return fmt.Errorf("initial retention purge: %w", err)
	}

	active := c.dispatcher.Initialize(ctx)
	c.update(func(s *Stats) {
		s.StartedAt = c.clock.Now().UTC()
		s.ActiveSinks = c.dispatcher.Active()
	})
	c.logger.Info("tracker initialized", "active_sinks", active, "classifiers", c.engine.Active())
	return nil
}

func (c *Coordinator) loop(ctx context.Context) error {
	c.setState(StateRunning)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.Tick(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			c.logger.Info("shutdown requested")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one full poll and handles every event it produced before
// returning. It returns ErrObserverFailed once the error limit is reached.
func (c *Coordinator) Tick(ctx context.Context) error {
	events := c.observer.Poll(ctx)
	c.update(func(s *Stats) { s.Ticks++ })

	changed := false
	for _, ev := range events {
		c.metrics.EventProcessed(ev.Kind)
		c.update(func(s *Stats) { s.EventsProcessed++ })

		switch ev.Kind {
		case EventAdded, EventModified:
			changed = true
			if err := c.processBatch(ctx, ev); err != nil {
				c.logger.Error("tick aborted", "event", ev.Kind, "ids", len(ev.IDs), "error", err)
				c.metrics.Tick(changed)
				return nil
			}
		case EventHeartbeat:
			c.consecutiveErrs = 0
			c.heartbeats++
			if c.cfg.DiagnosticsEvery > 0 && c.heartbeats%c.cfg.DiagnosticsEvery == 0 {
				st := c.Stats()
				c.logger.Info("diagnostics",
					"log_size", ev.LogSize,
					"ticks", st.Ticks,
					"events", st.EventsProcessed,
					"deletions", st.DeletionsDetected,
					"observer_errors", st.ObserverErrors,
				)
			}
		case EventObserverError:
			c.consecutiveErrs++
			c.metrics.ObserverError()
			c.update(func(s *Stats) { s.ObserverErrors++ })
			c.logger.Warn("observer error", "message", ev.Message, "consecutive", c.consecutiveErrs)
			if c.cfg.MaxConsecutiveErrors > 0 && c.consecutiveErrs >= c.cfg.MaxConsecutiveErrors {
				c.metrics.Tick(changed)
				return fmt.Errorf("%w: %d consecutive errors, last: %s", ErrObserverFailed, c.consecutiveErrs, ev.Message)
			}
		}
	}
	c.metrics.Tick(changed)

	if c.cfg.PurgeInterval > 0 && c.clock.Now().Sub(c.lastPurge) >= c.cfg.PurgeInterval {
		if err := c.purge(ctx); err != nil {
			c.logger.Error("periodic retention purge failed", "error", err)
		}
	}
	return nil
}

// processBatch classifies and journals the ids, then dispatches each record.
func (c *Coordinator) processBatch(ctx context.Context, ev ChangeEvent) error {
	records, err := c.engine.Process(ctx, ev.IDs)
	if err != nil {
		return err
	}

	for _, rec := range records {
		c.metrics.DeletionDetected(rec.Classification)
		c.update(func(s *Stats) {
			s.DeletionsDetected++
			s.LastEventAt = rec.DeletedAt
		})
		c.logger.Info("deletion detected",
			"journal_id", rec.JournalID,
			"item_id", rec.ItemID,
			"classification", rec.Classification,
		)

		res := c.dispatcher.Dispatch(ctx, rec)
		if len(res.Failed) > 0 {
			c.logger.Warn("record not delivered to every sink", "journal_id", rec.JournalID, "delivered", res.Delivered, "failed", len(res.Failed))
		}
	}
	return nil
}

func (c *Coordinator) purge(ctx context.Context) error {
	c.lastPurge = c.clock.Now()
	if c.cfg.Retention <= 0 {
		return nil
	}
	cutoff := c.lastPurge.Add(-c.cfg.Retention).UTC()
	res, err := c.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	c.logger.Info("retention purge complete", "cutoff", cutoff.Format(time.RFC3339), "fingerprints", res.Fingerprints, "deletions", res.Deletions)
	return nil
}

// Drain finalizes every active sink with bounded attempts and stops.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.setState(StateDraining)
	err := c.dispatcher.Finalize(ctx, c.cfg.FinalizeAttempts)
	c.setState(StateStopped)
	return err
}
