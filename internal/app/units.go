package app

import (
	"context"
	"sync"

	logx "schedkit/pkg/logx"
	"schedkit/pkg/systemd"
)

// lazyUnits dials the system bus on the first unit job, so daemons without
// unit jobs never touch D-Bus.
type lazyUnits struct {
	log logx.Logger

	mu      sync.Mutex
	ctx     context.Context
	u       systemd.Units
	closeFn func() error
}

var _ systemd.Units = (*lazyUnits)(nil)

// setContext sets the lifetime of the bus connection.
func (l *lazyUnits) setContext(ctx context.Context) {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
}

func (l *lazyUnits) get() systemd.Units {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.u != nil {
		return l.u
	}
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	u, closeFn, err := systemd.Dial(ctx)
	if err != nil {
		l.log.Debug("system bus unavailable; using systemctl", logx.Err(err))
	}
	l.u, l.closeFn = u, closeFn
	return u
}

func (l *lazyUnits) IsActive(ctx context.Context, unit string) (bool, error) {
	return l.get().IsActive(ctx, unit)
}

func (l *lazyUnits) Do(ctx context.Context, action systemd.Action, unit string) error {
	return l.get().Do(ctx, action, unit)
}

func (l *lazyUnits) Close() error {
	l.mu.Lock()
	closeFn := l.closeFn
	l.u, l.closeFn = nil, nil
	l.mu.Unlock()
	if closeFn != nil {
		return closeFn()
	}
	return nil
}
