// Package task runs background jobs for the server.
package task

import (
	"context"
	"sync"
	"time"
)

const defaultSchedulerInterval = time.Minute

// Job is one pass of background work.
type Job func(context.Context)

// Scheduler runs a Job once when started and then every interval until stopped.
type Scheduler struct {
	interval     time.Duration
	job          Job
	runNow       chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewScheduler(interval time.Duration, job Job) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &Scheduler{
		interval: interval,
		job:      job,
		runNow:   make(chan struct{}, 1),
	}
}

// Start launches the loop. Calling Start on a running scheduler does nothing.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.job == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	scheduler.cancel = cancel
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(loopCtx, done)
}

// RunNow asks the loop for an extra pass. Requests made while one is pending are dropped.
func (scheduler *Scheduler) RunNow() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.runNow <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for the current pass to return.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	scheduler.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.runNow:
			scheduler.run(ctx)
			ticker.Reset(scheduler.interval)
		case <-ticker.C:
			scheduler.run(ctx)
		}
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.job == nil || ctx.Err() != nil {
		return
	}
	scheduler.job(ctx)
}
