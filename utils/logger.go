package utils

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the logging surface every component takes. The Ctx
// variants append any default args carried by the context, see
// WithDefaultArgs.
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

const logPrefix = "[ramlog] "

type ctxArgsKey struct{}

// WithDefaultArgs returns a context carrying args that the Ctx
// logging variants append to every record.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(ctxArgsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxArgsKey{}, merged)
}

func ctxArgs(ctx context.Context) []any {
	args, _ := ctx.Value(ctxArgsKey{}).([]any)
	return args
}

// DefaultLogger funnels everything through one slog text handler on
// stderr, prefixing every message.
type DefaultLogger struct {
	sl *slog.Logger
}

func NewDefaultLogger(level slog.Level) *DefaultLogger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &DefaultLogger{sl: slog.New(h)}
}

func (d *DefaultLogger) emit(level slog.Level, msg string, args []any) {
	d.sl.Log(context.Background(), level, logPrefix+msg, args...)
}

func (d *DefaultLogger) Debug(msg string, args ...any) { d.emit(slog.LevelDebug, msg, args) }
func (d *DefaultLogger) Info(msg string, args ...any)  { d.emit(slog.LevelInfo, msg, args) }
func (d *DefaultLogger) Warn(msg string, args ...any)  { d.emit(slog.LevelWarn, msg, args) }
func (d *DefaultLogger) Error(msg string, args ...any) { d.emit(slog.LevelError, msg, args) }

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.emit(slog.LevelDebug, msg, append(args, ctxArgs(ctx)...))
}

func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.emit(slog.LevelInfo, msg, append(args, ctxArgs(ctx)...))
}

func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.emit(slog.LevelWarn, msg, append(args, ctxArgs(ctx)...))
}

func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.emit(slog.LevelError, msg, append(args, ctxArgs(ctx)...))
}
