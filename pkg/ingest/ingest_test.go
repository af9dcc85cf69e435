package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-org/mod-data-export/pkg/exportstats"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
	"github.com/folio-org/mod-data-export/pkg/objectstore/local"
)

const (
	idA = "2fb6b0a4-3a51-4c2b-a7c6-8f3bbd0c6a01"
	idB = "2fb6b0a4-3a51-4c2b-a7c6-8f3bbd0c6a02"
	idC = "2fb6b0a4-3a51-4c2b-a7c6-8f3bbd0c6a03"
)

type fakeStore struct {
	mu        sync.Mutex
	ids       map[string]struct{}
	inserts   int
	progress  [][2]int64
	errors    []job.ErrorLog
	insertErr error
}

func newFakeStore() *fakeStore { return &fakeStore{ids: map[string]struct{}{}} }

func (s *fakeStore) InsertIdentifiers(_ context.Context, _ string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserts++
	var n int64
	for _, id := range ids {
		if _, ok := s.ids[id]; !ok {
			s.ids[id] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpdateReadProgress(_ context.Context, _ string, read, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, [2]int64{read, total})
	return nil
}

func (s *fakeStore) SaveErrorLog(_ context.Context, entry *job.ErrorLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, *entry)
	return nil
}

func (s *fakeStore) codes() []job.ErrorCode {
	var out []job.ErrorCode
	for _, e := range s.errors {
		out = append(out, e.ErrorCode)
	}
	return out
}

func newObjects(t *testing.T) objectstore.Storage {
	t.Helper()
	st, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return st
}

func upload(t *testing.T, objects objectstore.Storage, format job.FileFormat, content string) *job.FileDefinition {
	t.Helper()
	fd := &job.FileDefinition{
		ID:             "fd-1",
		JobExecutionID: "job-1",
		Format:         format,
		FileName:       "ids.csv",
		SourcePath:     objectstore.UploadPath("fd-1", "ids.csv"),
	}
	require.NoError(t, objects.Write(context.Background(), fd.SourcePath, strings.NewReader(content), int64(len(content))))
	return fd
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: idA, want: idA, ok: true},
		{in: `"` + strings.ToUpper(idA) + `"`, want: idA, ok: true},
		{in: "  " + idB + "\r", want: idB, ok: true},
		{in: "not-a-uuid", want: "not-a-uuid", ok: false},
		{in: `"abc"`, want: "abc", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseID(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIngest_DuplicateAndInvalidScenario(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	fd := upload(t, objects, job.FormatCSV, strings.Join([]string{idA, idA, idB, "not-a-uuid"}, "\n"))
	stats := exportstats.New()

	sum := New(store, objects, nil, Config{BatchSize: 4}).Ingest(context.Background(), fd, stats, job.IDTypeInstance)

	assert.Equal(t, int64(4), sum.LinesRead)
	assert.Equal(t, int64(2), sum.Persisted)
	assert.Equal(t, int64(1), sum.Invalid)
	assert.Equal(t, int64(1), sum.Duplicates())
	assert.Zero(t, sum.DuplicatesAcrossBatches)

	snap := stats.Snapshot()
	assert.Equal(t, []string{"not-a-uuid"}, snap.Invalid)
	assert.Equal(t, int64(1), snap.Duplicates)
	assert.False(t, snap.FailedToReadInput)

	assert.Len(t, store.ids, 2)
	assert.Contains(t, store.ids, idA)
	assert.Contains(t, store.ids, idB)
	assert.ElementsMatch(t, []job.ErrorCode{job.ErrorInvalidUUIDFormat, job.ErrorDuplicatedIDs}, store.codes())
}

func TestIngest_CrossBatchDuplicatesReconciled(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	// Batches of two lines: [A B] [A C] [B].
	fd := upload(t, objects, job.FormatCSV, strings.Join([]string{idA, idB, idA, idC, idB}, "\n"))
	stats := exportstats.New()

	sum := New(store, objects, nil, Config{BatchSize: 2}).Ingest(context.Background(), fd, stats, job.IDTypeInstance)

	assert.Equal(t, int64(5), sum.LinesRead)
	assert.Equal(t, int64(3), sum.Persisted)
	assert.Zero(t, sum.DuplicatesInMemory)
	assert.Equal(t, int64(2), sum.DuplicatesAcrossBatches)
	assert.Equal(t, int64(2), stats.Snapshot().Duplicates)
	assert.Equal(t, 3, store.inserts)
}

func TestIngest_ReadProgressPerBatch(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf("2fb6b0a4-3a51-4c2b-a7c6-8f3bbd0c6b%02d", i))
	}
	fd := upload(t, objects, job.FormatCSV, strings.Join(lines, "\n")+"\n\n")

	New(store, objects, nil, Config{BatchSize: 2}).Ingest(context.Background(), fd, exportstats.New(), job.IDTypeInstance)

	// Initial total, two full batches, the tail batch.
	assert.Equal(t, [][2]int64{{0, 5}, {2, 5}, {4, 5}, {5, 5}}, store.progress)
}

func TestIngest_IdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	st, err := exportstore.OpenStore(ctx, exportstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	exec := &job.Execution{Status: job.StatusNew}
	require.NoError(t, st.CreateJobExecution(ctx, exec))

	objects := newObjects(t)
	fd := upload(t, objects, job.FormatCSV, strings.Join([]string{idA, idB, idA, idC}, "\n"))
	fd.JobExecutionID = exec.ID

	ing := New(st, objects, nil, Config{BatchSize: 1})
	first := ing.Ingest(ctx, fd, exportstats.New(), job.IDTypeInstance)
	second := ing.Ingest(ctx, fd, exportstats.New(), job.IDTypeInstance)

	assert.Equal(t, int64(3), first.Persisted)
	assert.Equal(t, int64(1), first.DuplicatesAcrossBatches)
	assert.Zero(t, second.Persisted)
	// A re-ingest reports every line as already held by the store.
	assert.Equal(t, int64(4), second.DuplicatesAcrossBatches)

	n, err := st.CountIdentifiers(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := st.GetJobExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Progress.Read)
	assert.Equal(t, int64(4), got.Progress.TotalToRead)
}

func TestIngest_MissingSourceMarksFailedToRead(t *testing.T) {
	store := newFakeStore()
	fd := &job.FileDefinition{ID: "fd-1", JobExecutionID: "job-1", Format: job.FormatCSV, SourcePath: "uploads/fd-1/missing.csv"}
	stats := exportstats.New()

	sum := New(store, newObjects(t), nil, Config{}).Ingest(context.Background(), fd, stats, job.IDTypeInstance)

	assert.Zero(t, sum.Persisted)
	assert.True(t, stats.FailedToReadInput())
	assert.Equal(t, []job.ErrorCode{job.ErrorReadingFile}, store.codes())
}

type failingReader struct{ objectstore.Storage }

func (f failingReader) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader(idA+"\n"), errReader{})), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestIngest_StreamErrorDoesNotPanic(t *testing.T) {
	store := newFakeStore()
	fd := &job.FileDefinition{ID: "fd-1", JobExecutionID: "job-1", Format: job.FormatCSV, SourcePath: "x.csv"}
	stats := exportstats.New()

	New(store, failingReader{newObjects(t)}, nil, Config{}).Ingest(context.Background(), fd, stats, job.IDTypeInstance)

	assert.True(t, stats.FailedToReadInput())
}

func TestIngest_InsertFailureMarksFailedToRead(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	store.insertErr = errors.New("database is locked")
	fd := upload(t, objects, job.FormatCSV, idA)
	stats := exportstats.New()

	New(store, objects, nil, Config{}).Ingest(context.Background(), fd, stats, job.IDTypeInstance)
	assert.True(t, stats.FailedToReadInput())
}

type fakeSearch struct {
	mu       sync.Mutex
	statuses []gatewayStatus
	polls    int
	ids      []string
	query    string
	entity   string
}

type gatewayStatus struct {
	status string
	msg    string
}

func TestIngest_QueryModeCompletes(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	search := newSearch([]string{"IN_PROGRESS", "COMPLETED"}, []string{idA, idB, idC})
	fd := upload(t, objects, job.FormatCQL, "title all \"moby\"\n")
	stats := exportstats.New()

	sum := New(store, objects, search, Config{BatchSize: 2, PollInterval: time.Millisecond}).
		Ingest(context.Background(), fd, stats, job.IDTypeHolding)

	assert.Equal(t, `title all "moby"`, search.query)
	assert.Equal(t, "HOLDING", search.entity)
	assert.Equal(t, int64(3), sum.Persisted)
	assert.Len(t, store.ids, 3)
	assert.Equal(t, [2]int64{3, 3}, store.progress[len(store.progress)-1])
	assert.False(t, stats.FailedToReadInput())
	assert.Empty(t, store.errors)
}

func TestIngest_QueryModeErrorRecordsOneError(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	search := newSearch([]string{"ERROR"}, nil)
	fd := upload(t, objects, job.FormatCQL, "title==(")
	stats := exportstats.New()

	sum := New(store, objects, search, Config{PollInterval: time.Millisecond}).
		Ingest(context.Background(), fd, stats, job.IDTypeInstance)

	assert.Zero(t, sum.Persisted)
	assert.Equal(t, []job.ErrorCode{job.ErrorQueryFailed}, store.codes())
	assert.False(t, stats.FailedToReadInput())
}

func TestIngest_QueryModeUnexpectedStatusIsIgnored(t *testing.T) {
	objects := newObjects(t)
	store := newFakeStore()
	search := newSearch([]string{"DEPRECATED"}, []string{idA})
	fd := upload(t, objects, job.FormatCQL, "title=x")

	sum := New(store, objects, search, Config{PollInterval: time.Millisecond}).
		Ingest(context.Background(), fd, exportstats.New(), job.IDTypeInstance)

	assert.Zero(t, sum.Persisted)
	assert.Empty(t, store.errors)
}

func TestIngest_QueryModeWithoutClient(t *testing.T) {
	objects := newObjects(t)
	fd := upload(t, objects, job.FormatCQL, "title=x")
	stats := exportstats.New()

	New(newFakeStore(), objects, nil, Config{}).Ingest(context.Background(), fd, stats, job.IDTypeInstance)
	assert.True(t, stats.FailedToReadInput())
}
