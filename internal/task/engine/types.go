package engine

import (
	"context"
	"time"
)

// Config controls the task execution engine.
//
// The scheduler decides what runs and when; execution settings belong here.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds each run. 0 disables it.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops jobs that have been queued longer than this duration.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Job is a unit of work handed to the engine.
type Job struct {
	ID   string
	Name string
	Run  func(ctx context.Context)

	// OnDrop is called (at most once) when the engine gives up on a job that
	// was accepted but never started: queue full at timer fire, stale in
	// queue, or engine stopped. It is not called for Future.Cancel.
	OnDrop func(reason error)

	// OnCancel is called (at most once) when Future.Cancel wins before the
	// job starts. Cancelling a running job does not call it.
	OnCancel func()
}

// FutureState is the lifecycle of a submitted job.
type FutureState int32

const (
	FutureWaiting   FutureState = iota // delayed; timer not fired yet
	FutureQueued                       // in the worker queue
	FutureRunning                      // a worker is executing it
	FutureFinished                     // ran to completion
	FutureCancelled                    // Cancel won before it started
	FutureDropped                      // engine gave up on it
)

func (s FutureState) String() string {
	switch s {
	case FutureWaiting:
		return "waiting"
	case FutureQueued:
		return "queued"
	case FutureRunning:
		return "running"
	case FutureFinished:
		return "finished"
	case FutureCancelled:
		return "cancelled"
	case FutureDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// HistoryItem records how a job ended.
type HistoryItem struct {
	ID          string
	Name        string
	Started     time.Time
	QueueDelay  time.Duration
	Duration    time.Duration
	Outcome     string // "finished" | "interrupted" | "dropped:<reason>"
	Interrupted bool
}

// DropEvent is published on the event bus when a job is dropped.
type DropEvent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Submitted        uint64
	Cancelled        uint64
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	DroppedStopped   uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration

	History []HistoryItem
}
