// Package storage persists task run history.
//
// Drivers:
//   - "file": JSON Lines file with an in-memory tail for RecentRuns
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// An empty driver or "none" disables storage; Open then returns (nil, nil).
package storage
