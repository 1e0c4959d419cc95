// Package debounce implements the notification cooldown gate.
//
// A Gate holds at most one expiry timestamp for the whole process. A trigger
// may fire when no window is active or the active window has passed; firing
// re-arms the window for TTL. Check and update happen in one critical section,
// so concurrent triggers with overlapping windows get exactly one permit.
package debounce
