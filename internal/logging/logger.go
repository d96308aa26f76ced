// Package logging is the slog-backed logger every package in this module
// logs through: a Logger interface plus a DefaultLogger implementation,
// so call sites never depend on a concrete handler.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

type DefaultLogger struct {
	logger *slog.Logger
}

func NewDefaultLogger(level slog.Level) *DefaultLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return &DefaultLogger{logger: logger}
}

const prefix = "[secidx] "

func (d *DefaultLogger) Debug(msg string, args ...any) { d.logger.Debug(prefix+msg, args...) }
func (d *DefaultLogger) Info(msg string, args ...any)  { d.logger.Info(prefix+msg, args...) }
func (d *DefaultLogger) Warn(msg string, args ...any)  { d.logger.Warn(prefix+msg, args...) }
func (d *DefaultLogger) Error(msg string, args ...any) { d.logger.Error(prefix+msg, args...) }

type defaultArgsKey struct{}

func getDefaultArgs(ctx context.Context) []any {
	args, _ := ctx.Value(defaultArgsKey{}).([]any)
	return args
}

// WithDefaultArgs attaches args to ctx; every *Ctx logging call below
// appends them automatically, the way a request-scoped logger would carry
// a request id through a call chain without threading it explicitly.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	combined := append(append([]any{}, getDefaultArgs(ctx)...), args...)
	return context.WithValue(ctx, defaultArgsKey{}, combined)
}

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Debug(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Info(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Warn(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Error(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}
