package phonesync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/store"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// flakyStore fails the first n StartSync calls.
type flakyStore struct {
	*store.SQLiteStore
	failures atomic.Int32
}

func (f *flakyStore) StartSync(ctx context.Context, t model.SyncType) (int64, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, errors.New("database is locked")
	}
	return f.SQLiteStore.StartSync(ctx, t)
}

func countRuns(t *testing.T, st store.SyncLog, syncType model.SyncType, status model.SyncStatus) int {
	t.Helper()
	runs, err := st.ListSyncRuns(context.Background(), 100)
	require.NoError(t, err)
	n := 0
	for _, r := range runs {
		if r.SyncType == syncType && r.Status == status {
			n++
		}
	}
	return n
}

func seedRecord(t *testing.T, st store.PhoneCache) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), model.UpsertParams{
		PhoneNumber:     "(408) 451-1400",
		NormalizedPhone: "4084511400",
		CompanyID:       10,
		CompanyName:     "Acme",
		ContactID:       model.Int64Ptr(5),
		ContactName:     "Pat Doe",
		ContactType:     model.ContactTypeDirect,
	}))
}

func TestStartupDecision(t *testing.T) {
	hour := time.Hour
	fresh := 30 * time.Minute
	stale := 5 * time.Hour

	tests := []struct {
		name     string
		unique   int64
		age      *time.Duration
		wantType model.SyncType
		wantOK   bool
	}{
		{"empty cache", 0, nil, model.SyncTypeInitial, true},
		{"empty cache ignores age", 0, &stale, model.SyncTypeInitial, true},
		{"stale cache", 12, &stale, model.SyncTypeStartup, true},
		{"fresh cache", 12, &fresh, "", false},
		{"exactly interval is fresh", 12, &hour, "", false},
		{"unknown age", 12, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StartupDecision(tt.unique, tt.age, time.Hour)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, got)
		})
	}
}

func TestScheduler_StartupEmptyCacheRunsInitial(t *testing.T) {
	st := newTestStore(t)
	syncer := NewSyncer(&fakeSource{pages: fixturePages()}, st, Options{})
	sched := NewScheduler(syncer, st, time.Hour, time.Minute)
	t.Cleanup(func() { _ = sched.Stop(5 * time.Second) })

	id, err := sched.Startup(context.Background())
	require.NoError(t, err)
	assert.Positive(t, id)

	require.Eventually(t, func() bool {
		return countRuns(t, st, model.SyncTypeInitial, model.SyncStatusCompleted) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_StartupFreshCacheSkips(t *testing.T) {
	st := newTestStore(t)
	seedRecord(t, st)
	src := &fakeSource{}
	sched := NewScheduler(NewSyncer(src, st, Options{}), st, time.Hour, time.Minute)
	t.Cleanup(func() { _ = sched.Stop(time.Second) })

	id, err := sched.Startup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, src.Calls())
}

func TestScheduler_StartupStaleCacheRunsStartup(t *testing.T) {
	st := newTestStore(t)
	seedRecord(t, st)
	time.Sleep(5 * time.Millisecond)

	sched := NewScheduler(NewSyncer(&fakeSource{}, st, Options{}), st, time.Millisecond, time.Minute)
	t.Cleanup(func() { _ = sched.Stop(5 * time.Second) })

	id, err := sched.Startup(context.Background())
	require.NoError(t, err)
	assert.Positive(t, id)

	require.Eventually(t, func() bool {
		return countRuns(t, st, model.SyncTypeStartup, model.SyncStatusCompleted) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_PeriodicLoop(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(NewSyncer(&fakeSource{}, st, Options{}), st, 20*time.Millisecond, 10*time.Millisecond)
	sched.Start()

	require.Eventually(t, func() bool {
		return countRuns(t, st, model.SyncTypeAuto, model.SyncStatusCompleted) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, sched.Stop(5*time.Second))
}

func TestScheduler_SurvivesStartFailures(t *testing.T) {
	base := newTestStore(t)
	st := &flakyStore{SQLiteStore: base}
	st.failures.Store(2)

	sched := NewScheduler(NewSyncer(&fakeSource{}, st, Options{}), st, 20*time.Millisecond, 5*time.Millisecond)
	sched.Start()

	require.Eventually(t, func() bool {
		return countRuns(t, base, model.SyncTypeAuto, model.SyncStatusCompleted) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, sched.Stop(5*time.Second))
	assert.Less(t, st.failures.Load(), int32(0))
}

func TestScheduler_SurvivesSourcePanic(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int32
	src := &fakeSource{onFetch: func(ctx context.Context, page int) error {
		if calls.Add(1) == 1 {
			panic("malformed page")
		}
		return nil
	}}

	sched := NewScheduler(NewSyncer(src, st, Options{}), st, 20*time.Millisecond, 5*time.Millisecond)
	sched.Start()

	require.Eventually(t, func() bool {
		return countRuns(t, st, model.SyncTypeAuto, model.SyncStatusCompleted) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, sched.Stop(5*time.Second))
}

func TestScheduler_Trigger(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(NewSyncer(&fakeSource{pages: fixturePages()}, st, Options{}), st, time.Hour, time.Minute)

	id, err := sched.Trigger(context.Background(), model.SyncTypeManual)
	require.NoError(t, err)
	assert.Positive(t, id)

	require.Eventually(t, func() bool {
		return countRuns(t, st, model.SyncTypeManual, model.SyncStatusCompleted) == 1
	}, 5*time.Second, 10*time.Millisecond)

	runs, err := st.ListSyncRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, 116, runs[0].RecordsAdded)
	require.NoError(t, sched.Stop(time.Second))
}

func TestScheduler_TriggerAfterStop(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(NewSyncer(&fakeSource{}, st, Options{}), st, time.Hour, time.Minute)
	require.NoError(t, sched.Stop(time.Second))

	_, err := sched.Trigger(context.Background(), model.SyncTypeManual)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestScheduler_StopCancelsInFlightRun(t *testing.T) {
	st := newTestStore(t)
	started := make(chan struct{})
	src := &fakeSource{onFetch: func(ctx context.Context, page int) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	sched := NewScheduler(NewSyncer(src, st, Options{}), st, time.Hour, time.Minute)

	id, err := sched.Trigger(context.Background(), model.SyncTypeManual)
	require.NoError(t, err)
	<-started

	require.NoError(t, sched.Stop(5*time.Second))

	runs, err := st.ListSyncRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, model.SyncStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "context canceled")
}

var _ ContactSource = connectwise.Client(nil)
