// Package scheduler creates scheduled task handles and binds them to their
// owning set and to the execution engine.
//
// # Schedule formats
//
// SchedulePeriodic accepts:
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with optional
//     seconds. Example: "55 * * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes, "02:30" every 2h30m.
//
// A "cron:", "interval:" or "every:" prefix forces the interpretation.
//
// # Handles
//
// Every one-shot run is a *handle.Handle tracked by the scheduler's set until
// it finishes or is disposed. Periodic schedules are represented by a
// registration handle whose platform handle is the cron entry; disposing it
// unregisters the schedule. Each tick spawns a fresh one-shot handle.
//
// # Lifecycle
//
// Periodic schedules registered before Start are kept and armed on Start.
// Stop disposes every live handle, including registrations.
package scheduler
