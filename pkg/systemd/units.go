package systemd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Action is a unit operation.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	// ActionCheck fails unless the unit is active.
	ActionCheck Action = "check"
)

var ErrInactive = errors.New("unit is not active")

// Units controls systemd units.
type Units interface {
	IsActive(ctx context.Context, unit string) (bool, error)
	Do(ctx context.Context, action Action, unit string) error
}

// unitName adds ".service" to bare names.
func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart, ActionCheck:
		return a, nil
	case "":
		return ActionCheck, nil
	default:
		return "", fmt.Errorf("unknown unit action %q", s)
	}
}

// Dial connects to the system bus. When that fails it falls back to
// systemctl and returns the bus error alongside the working fallback.
func Dial(ctx context.Context) (u Units, closeFn func() error, busErr error) {
	d, err := NewDBus(ctx)
	if err != nil {
		return Controller{}, func() error { return nil }, err
	}
	return d, d.Close, nil
}

// Controller runs systemctl. The zero value uses "systemctl" from PATH.
type Controller struct {
	Bin string
}

func (c Controller) bin() string {
	if strings.TrimSpace(c.Bin) != "" {
		return c.Bin
	}
	return "systemctl"
}

// IsActive reports whether unit is active. is-active exits non-zero for
// inactive units, so only the printed state is trusted.
func (c Controller) IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := exec.CommandContext(ctx, c.bin(), "is-active", unit).CombinedOutput()
	state := strings.TrimSpace(string(out))
	if err != nil && state == "" {
		return false, err
	}
	return state == "active", nil
}

// Do applies action to unit.
func (c Controller) Do(ctx context.Context, action Action, unit string) error {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return errors.New("unit required")
	}
	if action == ActionCheck {
		ok, err := c.IsActive(ctx, unit)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", unit, ErrInactive)
		}
		return nil
	}
	out, err := exec.CommandContext(ctx, c.bin(), string(action), unit).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("systemctl %s %s: %w: %s", action, unit, err, msg)
		}
		return fmt.Errorf("systemctl %s %s: %w", action, unit, err)
	}
	return nil
}
