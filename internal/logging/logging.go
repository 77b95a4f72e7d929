// Package logging provides the gateway's duck-typed logger contract: a
// provider that hands out a per-id logger, and a no-op fallback for when no
// provider is configured.
package logging

import (
	"log/slog"
	"os"
)

// Logger is the level surface every gateway component logs through.
// Every implementation defines all six levels; slogLogger maps the levels
// slog lacks onto Debug, and Nop discards everything.
type Logger interface {
	Silly(msg string, args ...any)
	Debug(msg string, args ...any)
	Verbose(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Provider produces a logger scoped to an id (a connector id, a request id,
// or any other correlation key).
type Provider interface {
	GetLogger(id string) Logger
}

// slogLogger adapts *slog.Logger to Logger. slog has no silly/verbose
// levels; they fold onto Debug, matching how the source's duck-typed
// logger polyfills missing levels as no-ops/closest-fit.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Silly(msg string, args ...any)   { s.l.Debug(msg, args...) }
func (s slogLogger) Debug(msg string, args ...any)   { s.l.Debug(msg, args...) }
func (s slogLogger) Verbose(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)    { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)    { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any)   { s.l.Error(msg, args...) }

// SlogProvider hands out a *slog.Logger per id, tagged with "id" so records
// from different connectors interleave legibly in one JSON stream.
type SlogProvider struct {
	base *slog.Logger
}

// NewSlogProvider builds a provider writing JSON records to os.Stdout at
// debug level, mirroring the source's setupLogger JSON handler setup.
func NewSlogProvider() *SlogProvider {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &SlogProvider{base: slog.New(handler)}
}

func (p *SlogProvider) GetLogger(id string) Logger {
	return slogLogger{l: p.base.With("id", id)}
}

// nopLogger discards everything; used when no provider is configured.
type nopLogger struct{}

func (nopLogger) Silly(string, ...any)   {}
func (nopLogger) Debug(string, ...any)   {}
func (nopLogger) Verbose(string, ...any) {}
func (nopLogger) Info(string, ...any)    {}
func (nopLogger) Warn(string, ...any)    {}
func (nopLogger) Error(string, ...any)   {}

// Nop is the zero-value logger: safe to call, does nothing.
var Nop Logger = nopLogger{}

// NopProvider always returns Nop, regardless of id.
type NopProvider struct{}

func (NopProvider) GetLogger(string) Logger { return Nop }
