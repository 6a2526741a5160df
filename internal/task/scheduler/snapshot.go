package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: s.cfg.Timezone,
	}
	loc := s.loc
	set := s.set
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			ID:            d.reg.ID(),
			Name:          d.name,
			Spec:          d.spec.Expr(),
			Kind:          d.spec.Kind,
			StartupSpread: d.startupSpread,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if snap.Timezone == "" {
		if loc == nil {
			loc = time.Local
		}
		snap.Timezone = loc.String()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	snap.Periodic = items
	snap.Live = set.Len()
	snap.Scheduled = s.scheduled.Load()
	snap.Cancelled = s.cancelled.Load()
	snap.Ticks = s.ticks.Load()
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}
