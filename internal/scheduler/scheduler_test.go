package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	mu        sync.Mutex
	runs      int
	interval  time.Duration
	cancelled bool
}

func (t *fakeTask) Run() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
}

func (t *fakeTask) NextInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *fakeTask) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *fakeTask) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *fakeTask) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func TestSchedulerRunsTaskEveryInterval(t *testing.T) {
	mclk := clock.NewMock()
	s := New(mclk)
	defer s.Stop()

	task := &fakeTask{interval: time.Second * 15}
	s.Register(task)

	// let the task loop park on its timer before advancing the clock
	time.Sleep(time.Millisecond * 10)
	mclk.Add(time.Second * 15)

	require.Eventually(t, func() bool {
		return task.runCount() == 1
	}, time.Second, time.Millisecond)

	time.Sleep(time.Millisecond * 10)
	mclk.Add(time.Second * 15)

	require.Eventually(t, func() bool {
		return task.runCount() == 2
	}, time.Second, time.Millisecond)
}

func TestSchedulerDropsCancelledTask(t *testing.T) {
	mclk := clock.NewMock()
	s := New(mclk)
	defer s.Stop()

	task := &fakeTask{interval: time.Second}
	s.Register(task)

	time.Sleep(time.Millisecond * 10)
	task.cancel()
	mclk.Add(time.Second)
	time.Sleep(time.Millisecond * 10)
	mclk.Add(time.Second)
	time.Sleep(time.Millisecond * 10)

	assert.Equal(t, 0, task.runCount())
}

func TestSchedulerStopWaitsForTasks(t *testing.T) {
	s := New(clock.New())

	task := &fakeTask{interval: time.Hour}
	s.Register(task)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerPicksUpIntervalChanges(t *testing.T) {
	mclk := clock.NewMock()
	s := New(mclk)
	defer s.Stop()

	task := &fakeTask{interval: time.Second * 15}
	s.Register(task)

	time.Sleep(time.Millisecond * 10)
	mclk.Add(time.Second * 15)
	require.Eventually(t, func() bool {
		return task.runCount() == 1
	}, time.Second, time.Millisecond)

	// the lap armed right after the first run keeps the old interval; the
	// change is read when the following lap is armed
	time.Sleep(time.Millisecond * 10)
	task.mu.Lock()
	task.interval = time.Second * 2
	task.mu.Unlock()

	mclk.Add(time.Second * 15)
	require.Eventually(t, func() bool {
		return task.runCount() == 2
	}, time.Second, time.Millisecond)

	time.Sleep(time.Millisecond * 10)
	mclk.Add(time.Second * 2)
	require.Eventually(t, func() bool {
		return task.runCount() == 3
	}, time.Second, time.Millisecond)
}
