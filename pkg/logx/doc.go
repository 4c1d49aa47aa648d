// Package logx configures ticketwatch's structured logging.
//
// Logger is a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and size-rotated
//   - An optional chat sink (min-level + rate limiting) for operator alerts
package logx
