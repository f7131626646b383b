package testutil

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"imessage-undeleter/internal/tracker"
)

// FakeReader is an in-memory message store. Every mutation grows the
// reported log size, the way the real store's WAL grows.
type FakeReader struct {
	mu          sync.Mutex
	rows        map[int64]tracker.Row
	logSize     int64
	unavailable bool
	queryErr    error
	sizeErr     error

	// ChangedSinceCalls counts ChangedSince queries.
	ChangedSinceCalls int
}

var (
	_ tracker.MessageStoreReader = (*FakeReader)(nil)
	_ tracker.FingerprintSource  = (*FakeReader)(nil)
)

func NewFakeReader() *FakeReader {
	return &FakeReader{rows: make(map[int64]tracker.Row), logSize: 4096}
}

// Upsert inserts or replaces rows.
func (f *FakeReader) Upsert(rows ...tracker.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		f.rows[r.ID] = r
		f.logSize += 128
	}
}

// Delete hard-deletes rows by id.
func (f *FakeReader) Delete(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.rows, id)
		f.logSize += 64
	}
}

// Row returns the stored row for id.
func (f *FakeReader) Row(id int64) (tracker.Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	return r, ok
}

// SetUnavailable makes LogSize report tracker.ErrStoreUnavailable.
func (f *FakeReader) SetUnavailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = v
}

// FailQueries makes every query after LogSize return err. nil restores them.
func (f *FakeReader) FailQueries(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErr = err
}

// FailLogSize makes LogSize return err. nil restores it.
func (f *FakeReader) FailLogSize(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizeErr = err
}

// BumpLogSize grows the log without changing any row, like a checkpoint.
func (f *FakeReader) BumpLogSize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logSize += 32
}

func (f *FakeReader) LogSize() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return 0, tracker.ErrStoreUnavailable
	}
	if f.sizeErr != nil {
		return 0, f.sizeErr
	}
	return f.logSize, nil
}

func (f *FakeReader) ChangedSince(ctx context.Context, after tracker.Cursor, limit int) ([]tracker.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChangedSinceCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var out []tracker.Row
	for _, r := range f.rows {
		if after.Before(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b tracker.Row) int {
		if c := a.ChangedAt().Compare(b.ChangedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeReader) ByIDs(ctx context.Context, ids []int64) ([]tracker.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var out []tracker.Row
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeReader) Existing(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := f.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out, nil
}

func (f *FakeReader) CurrentFingerprints(ctx context.Context, ids []int64) (map[int64]*tracker.Fingerprint, error) {
	rows, err := f.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*tracker.Fingerprint, len(rows))
	for _, r := range rows {
		if fp := tracker.FingerprintFromRow(r, r.ChangedAt()); fp != nil {
			out[r.ID] = fp
		}
	}
	return out, nil
}

// ErrFake is a generic failure for injecting errors.
var ErrFake = errors.New("injected failure")
