package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"schedkit/internal/eventbus"
	"schedkit/internal/storage"
	"schedkit/internal/task/composite"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/handle"
	logx "schedkit/pkg/logx"
)

var (
	ErrDisabled     = errors.New("scheduler disabled")
	ErrStopped      = errors.New("scheduler stopped")
	ErrNameRequired = errors.New("name required")
	ErrNoWork       = errors.New("work required")
)

// Config controls the scheduler.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"

	// MaxStartupSpread caps the random first-run delay of interval schedules.
	// 0 means 30s; negative disables the spread.
	MaxStartupSpread time.Duration
}

// Deps are the collaborators a Service needs. Only Engine is required.
type Deps struct {
	Engine   *engine.Service
	Reporter handle.Reporter
	Store    storage.Store
	Bus      eventbus.Bus
	Log      logx.Logger
}

type periodicDef struct {
	name          string
	spec          ParsedSpec
	work          handle.Work
	reg           *handle.Handle
	entryID       cron.EntryID
	startupSpread time.Duration

	// last is the most recent run spawned by a tick.
	last atomic.Pointer[handle.Handle]
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	rep   handle.Reporter
	store storage.Store

	engine *engine.Service
	set    *composite.Set[*handle.Handle]

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*periodicDef

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	scheduled atomic.Uint64
	cancelled atomic.Uint64
	ticks     atomic.Uint64
}

// RunEvent is the payload of task.scheduled, task.started, task.finished and
// task.disposed.
type RunEvent struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Delay  time.Duration `json:"delay,omitempty"`
	Took   time.Duration `json:"took,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type ScheduleInfo struct {
	ID            string
	Name          string
	Spec          string
	Kind          SpecKind
	StartupSpread time.Duration
	Next          time.Time
	Prev          time.Time
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string

	Live      int
	Scheduled uint64
	Cancelled uint64
	Ticks     uint64

	Periodic []ScheduleInfo
	Engine   engine.Snapshot
}
