// Package logx configures voxrelay's structured logging.
//
// The Logger type is a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink for operator alerts (min-level + rate limiting)
package logx
