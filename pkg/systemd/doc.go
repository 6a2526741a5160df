// Package systemd wraps the two ways the daemon talks to systemd: systemctl
// for unit control (used by "unit" jobs) and sd_notify for its own service
// state.
package systemd
