// Package scheduler runs recurring tasks on their own cadence.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task is a recurring job. NextInterval is re-read before every lap so a
// task can adjust its own period at runtime. A task reporting Cancelled is
// dropped.
type Task interface {
	Run()
	NextInterval() time.Duration
	Cancelled() bool
}

// Scheduler runs each registered task on its own goroutine.
type Scheduler struct {
	clk    clock.Clock
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler using the provided clock.
func New(clk clock.Clock) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clk:    clk,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register starts running the task. The first firing happens one interval
// after registration.
func (s *Scheduler) Register(t Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTask(t)
	}()
}

func (s *Scheduler) runTask(t Task) {
	for {
		timer := s.clk.Timer(t.NextInterval())

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if t.Cancelled() {
			return
		}

		t.Run()
	}
}

// Stop cancels all task loops and waits for them to exit. In-flight runs
// are allowed to complete.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
