// Package notifier delivers relay notifications to Telegram asynchronously.
//
// A notification is an animation URL plus an HTML caption for one chat.
// Notifications without an animation are sent as plain text.
//
// # Pipeline
//
// Notify enqueues without blocking. A small worker pool drains the queue
// through a token bucket, retries transient failures with jittered
// exponential backoff and stops calling Telegram while the circuit breaker
// is open.
//
// # History
//
// The service keeps a small in-memory history of recent deliveries for the
// /history command and for debugging.
package notifier
