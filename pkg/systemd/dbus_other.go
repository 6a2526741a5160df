//go:build !linux

package systemd

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemd: D-Bus control is linux only")

type DBus struct{}

func NewDBus(context.Context) (*DBus, error) { return nil, ErrUnsupported }

func (*DBus) Close() error { return nil }

func (*DBus) IsActive(context.Context, string) (bool, error) { return false, ErrUnsupported }

func (*DBus) Do(context.Context, Action, string) error { return ErrUnsupported }
