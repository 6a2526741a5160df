//go:build linux

package systemd

import (
	"context"
	"errors"
	"fmt"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
)

// DBus controls units over the system bus.
type DBus struct {
	conn *sddbus.Conn
}

func NewDBus(ctx context.Context) (*DBus, error) {
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return &DBus{conn: conn}, nil
}

func (d *DBus) Close() error {
	if d != nil && d.conn != nil {
		d.conn.Close()
	}
	return nil
}

func (d *DBus) IsActive(ctx context.Context, unit string) (bool, error) {
	p, err := d.conn.GetUnitPropertyContext(ctx, unitName(unit), "ActiveState")
	if err != nil {
		return false, err
	}
	state, _ := p.Value.Value().(string)
	return state == "active", nil
}

// Do queues the unit job and waits for systemd to report its result.
func (d *DBus) Do(ctx context.Context, action Action, unit string) error {
	name := unitName(unit)
	if name == "" {
		return errors.New("unit required")
	}
	if action == ActionCheck {
		ok, err := d.IsActive(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrInactive)
		}
		return nil
	}

	done := make(chan string, 1)
	var err error
	switch action {
	case ActionStart:
		_, err = d.conn.StartUnitContext(ctx, name, "replace", done)
	case ActionStop:
		_, err = d.conn.StopUnitContext(ctx, name, "replace", done)
	case ActionRestart:
		_, err = d.conn.RestartUnitContext(ctx, name, "replace", done)
	default:
		return fmt.Errorf("unknown unit action %q", action)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, name, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", action, name, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
