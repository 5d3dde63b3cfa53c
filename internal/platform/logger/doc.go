// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, redaction of sensitive attribute values, and
// request-scoped loggers carried on a context.Context.
package logger
