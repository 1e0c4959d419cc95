// Package storage persists the relay history: one record per voice join or
// command the bot acted on (sent, suppressed, discarded or failed).
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": append-only JSON Lines file
//
// An empty driver or "none" disables storage; Open then returns a nil Store.
package storage
