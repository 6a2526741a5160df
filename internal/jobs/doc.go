// Package jobs turns job declarations from the config file into work the
// scheduler can run.
//
// Kinds:
//
//	exec  run a command; a non-zero exit fails the run
//	log   write a log line (heartbeats, smoke tests)
//	unit  start, stop, restart or check a systemd unit
package jobs
