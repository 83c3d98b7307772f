package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

// EnqueueOption configures a single job insert.
type EnqueueOption func(*river.InsertOpts)

// InQueue routes the job to a named queue.
func InQueue(name string) EnqueueOption {
	return func(o *river.InsertOpts) {
		o.Queue = name
	}
}

// At delays the job until t.
func At(t time.Time) EnqueueOption {
	return func(o *river.InsertOpts) {
		o.ScheduledAt = t
	}
}

// After delays the job by d.
func After(d time.Duration) EnqueueOption {
	return At(time.Now().Add(d))
}

// MaxAttempts caps retries for the job.
func MaxAttempts(n int) EnqueueOption {
	return func(o *river.InsertOpts) {
		if n > 0 {
			o.MaxAttempts = n
		}
	}
}

// Priority sets the job priority, from 1 (highest) to 4.
func Priority(p int) EnqueueOption {
	return func(o *river.InsertOpts) {
		if p > 0 {
			o.Priority = p
		}
	}
}

// Tags labels the job.
func Tags(tags ...string) EnqueueOption {
	return func(o *river.InsertOpts) {
		o.Tags = append(o.Tags, tags...)
	}
}

// UniqueFor drops duplicates of the same task and payload inserted within d.
func UniqueFor(d time.Duration) EnqueueOption {
	return func(o *river.InsertOpts) {
		o.UniqueOpts = river.UniqueOpts{ByArgs: true, ByPeriod: d}
	}
}

func buildArgs(name string, payload any, opts []EnqueueOption) (taskArgs, *river.InsertOpts, error) {
	args := taskArgs{Task: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return taskArgs{}, nil, fmt.Errorf("jobs: marshal payload: %w", err)
		}
		args.Payload = raw
	}

	insert := &river.InsertOpts{}
	for _, opt := range opts {
		opt(insert)
	}
	return args, insert, nil
}
