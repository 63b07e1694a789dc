package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestVersionSignalBumpWakesWaiter(t *testing.T) {
	signal := newVersionSignal(clock.New())

	done := make(chan struct{})
	go func() {
		signal.WaitForUpdate(context.Background(), signal.Current(), false, time.Minute)
		close(done)
	}()

	// the waiter may not have parked yet; Bump still may not be missed
	// because the version check happens under the same lock
	time.Sleep(time.Millisecond * 10)
	signal.Bump()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by bump")
	}
}

func TestVersionSignalBumpBeforeWaitIsNotMissed(t *testing.T) {
	signal := newVersionSignal(clock.New())

	seen := signal.Current()
	signal.Bump()

	start := time.Now()
	signal.WaitForUpdate(context.Background(), seen, false, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}

func TestVersionSignalPendingWorkSkipsSleep(t *testing.T) {
	signal := newVersionSignal(clock.New())

	start := time.Now()
	signal.WaitForUpdate(context.Background(), signal.Current(), true, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}

func TestVersionSignalWaitIsBounded(t *testing.T) {
	signal := newVersionSignal(clock.New())

	start := time.Now()
	signal.WaitForUpdate(context.Background(), signal.Current(), false, time.Millisecond*20)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Millisecond*20)
	assert.Less(t, elapsed, time.Second)
}

func TestVersionSignalWaitReturnsOnCancel(t *testing.T) {
	signal := newVersionSignal(clock.New())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		signal.WaitForUpdate(ctx, signal.Current(), false, time.Minute)
		close(done)
	}()

	time.Sleep(time.Millisecond * 10)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by cancellation")
	}
}

func TestVersionSignalCounterIsMonotonic(t *testing.T) {
	signal := newVersionSignal(clock.New())

	for i := uint64(1); i <= 5; i++ {
		signal.Bump()
		assert.Equal(t, i, signal.Current())
	}
}
