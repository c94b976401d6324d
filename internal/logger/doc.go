// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder on stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - key-value helpers per level (DebugKV, InfoKV, WarnKV, ErrorKV) and Info.
//
// Every pipeline step accepts a context and extracts the logger from it.
package logger
