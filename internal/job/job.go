// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package job runs periodic background tasks, such as the sensor status report, next to
// the AR session.
package job

import (
	"context"
	"sync/atomic"
	"time"
)

// Job is a named task that runs at a fixed interval and never overlaps with itself. A
// tick that fires while the previous run is still executing is skipped.
type Job struct {
	name      string
	interval  time.Duration
	task      func(context.Context)
	immediate bool

	runs    atomic.Int64
	skipped atomic.Int64
}

// Option configures a Job.
type Option func(*Job)

// WithImmediateRun makes the job run once right when it is started, before the first tick.
func WithImmediateRun() Option {
	return func(j *Job) {
		j.immediate = true
	}
}

// New creates a new Job with the given name, interval and task.
func New(name string, interval time.Duration, task func(context.Context), opts ...Option) *Job {
	j := &Job{
		name:     name,
		interval: interval,
		task:     task,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Job) Name() string {
	return j.name
}

// Runs returns the number of started task runs.
func (j *Job) Runs() int64 {
	return j.runs.Load()
}

// Skipped returns the number of ticks dropped because a run was still in progress.
func (j *Job) Skipped() int64 {
	return j.skipped.Load()
}

// Start executes the job until ctx is cancelled. A job without task or interval returns
// immediately.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// 1-slot semaphore, held while a run is in progress
	sem := make(chan struct{}, 1)
	trigger := func() {
		select {
		case sem <- struct{}{}:
			j.runs.Add(1)
			go func() {
				defer func() { <-sem }()
				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				j.task(runCtx)
			}()
		default:
			j.skipped.Add(1)
		}
	}

	if j.immediate {
		trigger()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}
