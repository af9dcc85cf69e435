package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/retry"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   [][]string
	fail    func(ids []string) error
	delay   time.Duration
	missing map[string]bool
}

func (f *fakeSource) FetchByIDs(ctx context.Context, _ job.IDType, ids []string, limit int) ([]job.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(ids); err != nil {
			return nil, err
		}
	}
	var out []job.Record
	for _, id := range ids {
		if f.missing[id] {
			continue
		}
		out = append(out, job.Record{ID: id, Content: []byte(`{"id":"` + id + `"}`)})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []job.ErrorLog
}

func (r *fakeRecorder) SaveErrorLog(_ context.Context, entry *job.ErrorLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%02d", i)
	}
	return ids
}

func noRetry() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Config{MaxRetries: 0}
	return cfg
}

func recordIDs(records []job.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestChunk(t *testing.T) {
	chunks := Chunk(makeIDs(17), 15)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 15)
	assert.Len(t, chunks[1], 2)

	assert.Empty(t, Chunk(nil, 15))
	assert.Len(t, Chunk(makeIDs(30), 15), 2)
	assert.Len(t, Chunk(makeIDs(3), 0), 1)
}

func TestFetchByIDs_SeventeenIDsTwoChunks(t *testing.T) {
	src := &fakeSource{}
	pool := NewPool(15)
	c, err := New(src, pool, nil, noRetry())
	require.NoError(t, err)

	ids := makeIDs(17)
	res, err := c.FetchByIDs(context.Background(), Request{JobID: "job-1", Kind: job.IDTypeInstance, IDs: ids})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, src.callCount())
	assert.Equal(t, 17, res.TotalRecords)
	assert.Equal(t, ids, recordIDs(res.Records))
	assert.LessOrEqual(t, pool.Peak(), int64(15))
	assert.Zero(t, pool.InFlight())
}

func TestFetchByIDs_PoolBoundHolds(t *testing.T) {
	var running, peak atomic.Int64
	src := &fakeSource{fail: func([]string) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}}
	pool := NewPool(3)
	cfg := noRetry()
	cfg.ChunkSize = 2
	c, err := New(src, pool, nil, cfg)
	require.NoError(t, err)

	res, err := c.FetchByIDs(context.Background(), Request{Kind: job.IDTypeInstance, IDs: makeIDs(40)})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Chunks)
	assert.Equal(t, 40, res.TotalRecords)
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.LessOrEqual(t, pool.Peak(), int64(3))
}

func TestFetchByIDs_PartialFailureIsolation(t *testing.T) {
	boom := errors.New("record store unavailable")
	src := &fakeSource{fail: func(ids []string) error {
		if ids[0] == "id-15" {
			return boom
		}
		return nil
	}}
	rec := &fakeRecorder{}
	c, err := New(src, NewPool(4), rec, noRetry())
	require.NoError(t, err)

	res, err := c.FetchByIDs(context.Background(), Request{
		JobID:        "job-1",
		JobProfileID: "profile-1",
		Tenant:       "diku",
		Kind:         job.IDTypeInstance,
		IDs:          makeIDs(45),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 1, res.FailedChunks)
	assert.Equal(t, 30, res.TotalRecords)
	assert.Len(t, res.FailedIDs, 15)
	assert.Equal(t, "id-15", res.FailedIDs[0])

	got := recordIDs(res.Records)
	assert.Contains(t, got, "id-00")
	assert.Contains(t, got, "id-44")
	assert.NotContains(t, got, "id-20")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, job.ErrorFetchChunk, rec.entries[0].ErrorCode)
	assert.Equal(t, "job-1", rec.entries[0].JobExecutionID)
	assert.Equal(t, "profile-1", rec.entries[0].JobProfileID)
	assert.True(t, strings.Contains(rec.entries[0].ErrorValues[0], "unavailable"))
}

func TestFetchByIDs_NotFoundIsCallerSetDifference(t *testing.T) {
	src := &fakeSource{missing: map[string]bool{"id-03": true}}
	c, err := New(src, NewPool(2), nil, noRetry())
	require.NoError(t, err)

	res, err := c.FetchByIDs(context.Background(), Request{Kind: job.IDTypeHolding, IDs: makeIDs(5)})
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalRecords)
	assert.Zero(t, res.FailedChunks)
}

func TestFetchByIDs_RetriesTransientChunk(t *testing.T) {
	var attempts atomic.Int32
	src := &fakeSource{fail: func([]string) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}}
	cfg := DefaultConfig()
	cfg.Retry = retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	c, err := New(src, NewPool(1), nil, cfg)
	require.NoError(t, err)

	res, err := c.FetchByIDs(context.Background(), Request{Kind: job.IDTypeInstance, IDs: makeIDs(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetchByIDs_NonRetryableNotRetried(t *testing.T) {
	final := errors.New("bad request")
	src := &fakeSource{fail: func([]string) error { return final }}
	cfg := DefaultConfig()
	cfg.Retry = retry.Config{MaxRetries: 5, InitialInterval: time.Millisecond}
	cfg.Retryable = func(err error) bool { return !errors.Is(err, final) }
	c, err := New(src, NewPool(1), nil, cfg)
	require.NoError(t, err)

	res, err := c.FetchByIDs(context.Background(), Request{Kind: job.IDTypeInstance, IDs: makeIDs(2)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedChunks)
	assert.Equal(t, 1, src.callCount())
}

func TestFetchByIDs_Timeout(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	cfg := noRetry()
	cfg.Timeout = 20 * time.Millisecond
	rec := &fakeRecorder{}
	c, err := New(src, NewPool(1), rec, cfg)
	require.NoError(t, err)

	start := time.Now()
	res, err := c.FetchByIDs(context.Background(), Request{JobID: "job-1", Kind: job.IDTypeInstance, IDs: makeIDs(30)})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 2, res.FailedChunks)
	assert.Zero(t, res.TotalRecords)
	assert.NotEmpty(t, rec.entries)
}

func TestFetchByIDs_RecoversPanics(t *testing.T) {
	src := &fakeSource{fail: func([]string) error { panic("boom") }}
	c, err := New(src, NewPool(1), nil, noRetry())
	require.NoError(t, err)

	res, err := c.FetchByIDs(context.Background(), Request{Kind: job.IDTypeInstance, IDs: makeIDs(2)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedChunks)
}

func TestFetchByIDs_CancelledContext(t *testing.T) {
	c, err := New(&fakeSource{}, nil, nil, noRetry())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchByIDs(ctx, Request{IDs: makeIDs(1)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(nil, nil, nil, Config{})
	assert.Error(t, err)
}

type fakeCatalog struct{ records []job.Record }

func (f fakeCatalog) FindCatalogRecords(context.Context, string, []string) ([]job.Record, error) {
	return f.records, nil
}

func TestCatalogSource_Limit(t *testing.T) {
	src := CatalogSource{Reader: fakeCatalog{records: []job.Record{{ID: "a"}, {ID: "b"}, {ID: "c"}}}}
	records, err := src.FetchByIDs(context.Background(), job.IDTypeInstance, []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
