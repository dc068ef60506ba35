package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRun runs until cancelled.
type blockingRun struct {
	started chan struct{}
	id      string
}

func newBlockingRun(id string) *blockingRun {
	return &blockingRun{started: make(chan struct{}), id: id}
}

func (b *blockingRun) Execute(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingRun) ResponseID() string { return b.id }

// quickRun finishes as soon as it is released and ignores cancellation.
type quickRun struct {
	release chan struct{}
}

func (q *quickRun) Execute(context.Context) error {
	<-q.release
	return nil
}

func (q *quickRun) ResponseID() string { return "" }

func waitDone(t *testing.T, u *Unit) {
	t.Helper()
	select {
	case <-u.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("unit did not settle")
	}
}

func TestGetOrCreate(t *testing.T) {
	r := NewRegistry(nil)
	a := r.GetOrCreate("c1")
	b := r.GetOrCreate("c1")
	assert.Same(t, a, b)
	assert.Equal(t, "c1", a.ConversationID)
	assert.Equal(t, 1, r.Len())
}

func TestStartRunSingleFlight(t *testing.T) {
	r := NewRegistry(nil)
	run := newBlockingRun("r1")
	u, err := r.StartRun(context.Background(), "c1", run)
	require.NoError(t, err)
	<-run.started

	_, err = r.StartRun(context.Background(), "c1", newBlockingRun("r2"))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Other conversations are independent.
	other, err := r.StartRun(context.Background(), "c2", newBlockingRun("r3"))
	require.NoError(t, err)

	r.TeardownAll()
	waitDone(t, u)
	waitDone(t, other)
}

func TestActiveClearedAfterCompletion(t *testing.T) {
	r := NewRegistry(nil)
	q := &quickRun{release: make(chan struct{})}
	u, err := r.StartRun(context.Background(), "c1", q)
	require.NoError(t, err)
	assert.True(t, r.Active("c1"))

	close(q.release)
	waitDone(t, u)
	assert.False(t, r.Active("c1"))
	assert.NoError(t, u.Err())

	_, err = r.StartRun(context.Background(), "c1", &quickRun{release: q.release})
	require.NoError(t, err)
}

func TestCancelReportsStop(t *testing.T) {
	r := NewRegistry(nil)
	run := newBlockingRun("r7")
	u, err := r.StartRun(context.Background(), "c1", run)
	require.NoError(t, err)
	<-run.started

	out, err := r.Cancel(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, out.Stopped)
	assert.Equal(t, "r7", out.ResponseID)
	assert.ErrorIs(t, u.Err(), context.Canceled)
	assert.False(t, r.Active("c1"))

	// A second cancel finds nothing to stop.
	out, err = r.Cancel(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, out.Stopped)
}

func TestCancelIdleIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	out, err := r.Cancel(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)

	r.GetOrCreate("c1")
	out, err = r.Cancel(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, out.Stopped)
}

func TestCancelAfterNaturalFinish(t *testing.T) {
	r := NewRegistry(nil)
	q := &quickRun{release: make(chan struct{})}
	_, err := r.StartRun(context.Background(), "c1", q)
	require.NoError(t, err)

	// The run ignores cancellation and completes normally.
	go close(q.release)
	out, err := r.Cancel(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, out.Stopped)
}

func TestCancelRespectsCallerContext(t *testing.T) {
	r := NewRegistry(nil)
	q := &quickRun{release: make(chan struct{})}
	u, err := r.StartRun(context.Background(), "c1", q)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Cancel(ctx, "c1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(q.release)
	waitDone(t, u)
}

func TestReset(t *testing.T) {
	r := NewRegistry(nil)
	run := newBlockingRun("r1")
	u, err := r.StartRun(context.Background(), "c1", run)
	require.NoError(t, err)
	<-run.started

	require.NoError(t, r.Reset(context.Background(), "c1"))
	waitDone(t, u)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Active("c1"))
}

func TestParentCancellationStopsRuns(t *testing.T) {
	r := NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	run := newBlockingRun("r1")
	u, err := r.StartRun(ctx, "c1", run)
	require.NoError(t, err)
	<-run.started

	cancel()
	waitDone(t, u)
	assert.ErrorIs(t, u.Err(), context.Canceled)
}

func TestTeardownAll(t *testing.T) {
	r := NewRegistry(nil)
	var units []*Unit
	for i := 0; i < 5; i++ {
		run := newBlockingRun("r" + strconv.Itoa(i))
		u, err := r.StartRun(context.Background(), "c"+strconv.Itoa(i), run)
		require.NoError(t, err)
		<-run.started
		units = append(units, u)
	}

	r.TeardownAll()
	for _, u := range units {
		select {
		case <-u.Done():
		default:
			t.Fatal("TeardownAll returned before runs settled")
		}
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "c" + strconv.Itoa(i%5)
			r.GetOrCreate(id)
			_, _ = r.StartRun(context.Background(), id, &quickRun{release: closedChan()})
			_, _ = r.Cancel(context.Background(), id)
			r.Active(id)
		}(i)
	}
	wg.Wait()
	r.TeardownAll()
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
