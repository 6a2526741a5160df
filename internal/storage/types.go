package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRows bounds retained run records. 0 means DefaultMaxRows.
	MaxRows int
}

const DefaultMaxRows = 5000

func (c Config) maxRows() int {
	if c.MaxRows <= 0 {
		return DefaultMaxRows
	}
	return c.MaxRows
}

// Run outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomePanic    = "panic"
	OutcomeDisposed = "disposed"
	OutcomeDropped  = "dropped"
)

// RunRecord is one finished (or abandoned) task run.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
