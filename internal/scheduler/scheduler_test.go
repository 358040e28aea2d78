package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/logging"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/scheduler"
	"github.com/nhle/mailsort/tests/testutil"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  map[string]int
	fail  map[string]error
	block chan struct{}
	seen  atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: make(map[string]int), fail: make(map[string]error)}
}

func (r *fakeRunner) Run(ctx context.Context, id string, _ processor.Options) (*processor.Result, error) {
	r.seen.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id]++
	if err := r.fail[id]; err != nil {
		return nil, err
	}
	return &processor.Result{ConnectionID: id, MessagesProcessed: 1}, nil
}

func newRedisLocker(t *testing.T) (*scheduler.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return scheduler.NewRedisLocker(client, time.Minute), mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t)

	first := locker.Lock("c1")
	second := locker.Lock("c1")

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Releasing a lock that is not owned leaves the holder alone.
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("mailsort:lock:connection:c1"))

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t)

	ok, err := locker.Lock("c1").Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = locker.Lock("c1").Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker := scheduler.NewLocalLocker()

	a := locker.Lock("c1")
	b := locker.Lock("c1")
	other := locker.Lock("c2")

	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)
	ok, _ = other.Acquire(ctx)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)
}

func TestTickRunsActiveConnections(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	c1 := testutil.SeedConnection(t, st, "u1", model.ProviderIMAP)
	c2 := testutil.SeedConnection(t, st, "u2", model.ProviderIMAP)
	c3 := testutil.SeedConnection(t, st, "u3", model.ProviderIMAP)
	require.NoError(t, st.UpdateConnectionStatus(ctx, c3.ID, model.StatusNeedsReauth, "login failed"))

	runner := newFakeRunner()
	runner.fail[c2.ID] = errors.New("mailbox unreachable")
	sched := scheduler.New(runner, st, nil, scheduler.WithLogger(logging.Discard()))

	assert.Equal(t, 2, sched.Tick(ctx))
	assert.Equal(t, map[string]int{c1.ID: 1, c2.ID: 1}, runner.runs)

	statuses := sched.Statuses()
	require.Len(t, statuses, 2)
	byID := map[string]scheduler.Status{}
	for _, s := range statuses {
		byID[s.ConnectionID] = s
	}
	assert.Equal(t, scheduler.RunIdle, byID[c1.ID].State)
	require.NotNil(t, byID[c1.ID].LastResult)
	assert.Equal(t, 1, byID[c1.ID].LastResult.MessagesProcessed)
	assert.Equal(t, scheduler.RunError, byID[c2.ID].State)
	assert.EqualError(t, byID[c2.ID].Error, "mailbox unreachable")
}

func TestTickSkipsLockedConnection(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	c1 := testutil.SeedConnection(t, st, "u1", model.ProviderIMAP)
	c2 := testutil.SeedConnection(t, st, "u2", model.ProviderIMAP)

	locker, _ := newRedisLocker(t)
	held := locker.Lock(c1.ID)
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	runner := newFakeRunner()
	sched := scheduler.New(runner, st, locker, scheduler.WithLogger(logging.Discard()))

	assert.Equal(t, 1, sched.Tick(ctx))
	assert.Equal(t, map[string]int{c2.ID: 1}, runner.runs)

	_, err = sched.RunConnection(ctx, c1.ID, processor.Options{})
	assert.ErrorIs(t, err, scheduler.ErrBusy)
}

func TestRunConnectionHonorsTimeout(t *testing.T) {
	st := testutil.NewTestStore(t)
	c1 := testutil.SeedConnection(t, st, "u1", model.ProviderIMAP)

	runner := newFakeRunner()
	runner.block = make(chan struct{})
	sched := scheduler.New(runner, st, nil,
		scheduler.WithRunTimeout(20*time.Millisecond),
		scheduler.WithLogger(logging.Discard()))

	_, err := sched.RunConnection(context.Background(), c1.ID, processor.Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The lock is released after the run.
	close(runner.block)
	_, err = sched.RunConnection(context.Background(), c1.ID, processor.Options{})
	assert.NoError(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	st := testutil.NewTestStore(t)
	testutil.SeedConnection(t, st, "u1", model.ProviderIMAP)

	runner := newFakeRunner()
	sched := scheduler.New(runner, st, nil,
		scheduler.WithSchedule("@every 1h"),
		scheduler.WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.seen.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	sched := scheduler.New(newFakeRunner(), testutil.NewTestStore(t), nil,
		scheduler.WithSchedule("not a schedule"),
		scheduler.WithLogger(logging.Discard()))
	assert.Error(t, sched.Run(context.Background()))
}
