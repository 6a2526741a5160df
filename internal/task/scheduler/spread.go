package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultMaxStartupSpread = 30 * time.Second

// spreadSchedule overrides the first activation of an interval schedule so
// that many schedules registered at once do not all fire together.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

// intervalSchedule returns a cron schedule firing every `every`, delayed once
// by a random whole-second jitter in [0, min(every, maxSpread)). maxSpread < 0
// disables it.
func intervalSchedule(every, maxSpread time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	if maxSpread == 0 {
		maxSpread = defaultMaxStartupSpread
	}
	spread := min(every, maxSpread)
	if spread <= 0 {
		return base, 0
	}

	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spread)))
	// cron.Every works in whole seconds.
	jitter = jitter.Truncate(time.Second)
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
