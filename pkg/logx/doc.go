// Package logx is tipbot's structured logging layer.
//
// It wraps zerolog behind a small value type (logx.Logger) so that:
//   - console output stays short (timestamp + file:line)
//   - the optional file sink stays JSON
//   - WARN+ lines can be mirrored to a log chat, rate limited
//
// The zero Logger is a valid no-op logger.
package logx
