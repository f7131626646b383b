package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// EventKind tags a ChangeEvent.
type EventKind int

const (
	EventAdded EventKind = iota
	EventModified
	EventHeartbeat
	EventObserverError
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventHeartbeat:
		return "heartbeat"
	case EventObserverError:
		return "observer_error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ChangeEvent is one observation emitted by a poll. IDs is set for Added and
// Modified, LogSize for Heartbeat and Message for ObserverError.
type ChangeEvent struct {
	Kind    EventKind
	IDs     []int64
	LogSize int64
	Time    time.Time
	Message string
}

// Poller produces the events of one tick.
type Poller interface {
	Poll(ctx context.Context) []ChangeEvent
}

// TrackedItems lists ids the tracker holds live baselines for.
type TrackedItems interface {
	TrackedItemIDs(ctx context.Context, limit int) ([]int64, error)
}

// ObserverConfig tunes a ChangeObserver.
type ObserverConfig struct {
	// MaxBatchSize caps the rows fetched per tick.
	MaxBatchSize int

	// Lookback bounds the first query after startup.
	Lookback time.Duration

	// TrackedWindow is how many tracked ids are checked for disappearance on
	// every change. Zero disables the check.
	TrackedWindow int
}

// ChangeObserver turns the monitored store's log-size signal into batches of
// changed ids. It is not safe for concurrent use; the coordinator loop owns it.
type ChangeObserver struct {
	reader  MessageStoreReader
	tracked TrackedItems
	filter  *Filter
	cfg     ObserverConfig
	clock   Clock
	logger  Logger

	sampled   bool
	lastSize  int64
	pending   bool
	cursor    Cursor
	maxSeenID int64
}

var _ Poller = (*ChangeObserver)(nil)

// NewChangeObserver creates an observer. tracked may be nil to skip the
// vanished-item check, and filter may be nil to track everything.
func NewChangeObserver(reader MessageStoreReader, tracked TrackedItems, filter *Filter, cfg ObserverConfig, clock Clock, logger Logger) *ChangeObserver {
	if filter == nil {
		filter = AllowAll()
	}
	return &ChangeObserver{
		reader:  reader,
		tracked: tracked,
		filter:  filter,
		cfg:     cfg,
		clock:   clock,
		logger:  WithComponent(logger, "observer"),
	}
}

// Poll samples the log size and, when it moved, resolves the change into
// Added and Modified events. A Heartbeat closes every readable tick. An
// unreadable store yields no events at all; a failed query yields a single
// ObserverError and the same window is retried next tick.
func (o *ChangeObserver) Poll(ctx context.Context) []ChangeEvent {
	now := o.clock.Now()

	size, err := o.reader.LogSize()
	if errors.Is(err, ErrStoreUnavailable) {
		o.logger.Debug("message store unavailable, skipping tick", "error", err)
		return nil
	}
	if err != nil {
		return []ChangeEvent{{Kind: EventObserverError, Time: now, Message: fmt.Sprintf("sampling log size: %v", err)}}
	}

	changed := !o.sampled || size != o.lastSize || o.pending
	o.sampled = true
	o.lastSize = size

	var events []ChangeEvent
	if changed {
		events, err = o.collect(ctx, now)
		if err != nil {
			o.pending = true
			return []ChangeEvent{{Kind: EventObserverError, Time: now, Message: err.Error()}}
		}
	}

	return append(events, ChangeEvent{Kind: EventHeartbeat, LogSize: size, Time: now})
}

func (o *ChangeObserver) collect(ctx context.Context, now time.Time) ([]ChangeEvent, error) {
	after := o.cursor
	if after.At.IsZero() {
		after = Cursor{At: now.Add(-o.cfg.Lookback)}
	}

	rows, err := o.reader.ChangedSince(ctx, after, o.cfg.MaxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("querying changed rows: %w", err)
	}

	// The cursor only advances to the last row read, never to the clock.
	full := o.cfg.MaxBatchSize > 0 && len(rows) >= o.cfg.MaxBatchSize
	next := after
	if len(rows) > 0 {
		next = CursorAt(rows[len(rows)-1])
	}

	var added, modified []int64
	maxSeen := o.maxSeenID
	for _, r := range rows {
		if !o.filter.Allow(r) {
			continue
		}
		if r.ID > o.maxSeenID {
			added = append(added, r.ID)
		} else {
			modified = append(modified, r.ID)
		}
		maxSeen = max(maxSeen, r.ID)
	}

	vanished, err := o.vanished(ctx, added, modified)
	if err != nil {
		return nil, err
	}
	modified = append(modified, vanished...)

	o.cursor = next
	o.pending = full
	o.maxSeenID = maxSeen

	var events []ChangeEvent
	if len(added) > 0 {
		events = append(events, ChangeEvent{Kind: EventAdded, IDs: added, Time: now})
	}
	if len(modified) > 0 {
		events = append(events, ChangeEvent{Kind: EventModified, IDs: modified, Time: now})
	}
	if len(rows) > 0 || len(vanished) > 0 {
		o.logger.Debug("changes observed", "rows", len(rows), "added", len(added), "modified", len(modified), "vanished", len(vanished))
	}
	return events, nil
}

// vanished returns tracked ids that no longer exist in the store, excluding
// ids already reported this tick.
func (o *ChangeObserver) vanished(ctx context.Context, seen ...[]int64) ([]int64, error) {
	if o.tracked == nil || o.cfg.TrackedWindow <= 0 {
		return nil, nil
	}

	ids, err := o.tracked.TrackedItemIDs(ctx, o.cfg.TrackedWindow)
	if err != nil {
		return nil, fmt.Errorf("listing tracked items: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	present, err := o.reader.Existing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("checking tracked items: %w", err)
	}

	var gone []int64
	for _, id := range ids {
		if slices.Contains(present, id) || slices.ContainsFunc(seen, func(s []int64) bool { return slices.Contains(s, id) }) {
			continue
		}
		gone = append(gone, id)
	}
	slices.Sort(gone)
	return gone, nil
}
