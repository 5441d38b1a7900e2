package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"agent-relay/internal/config"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return NewWithWriter(os.Stdout, cfg, dev)
}

func NewWithWriter(w io.Writer, cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(w).With().Timestamp().Logger()
	}
	base = base.Level(level)

	if cfg.Sampling && !dev {
		// Keep the first 100 events per second, then 1 in 100. Warnings
		// and errors are never sampled.
		sampled := base.Sample(zerolog.LevelSampler{
			TraceSampler: &zerolog.BurstSampler{Burst: 100, Period: time.Second, NextSampler: &zerolog.BasicSampler{N: 100}},
			DebugSampler: &zerolog.BurstSampler{Burst: 100, Period: time.Second, NextSampler: &zerolog.BasicSampler{N: 100}},
			InfoSampler:  &zerolog.BurstSampler{Burst: 100, Period: time.Second, NextSampler: &zerolog.BasicSampler{N: 100}},
		})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxTraceID ctxKey = "trace_id"
	ctxJobID   ctxKey = "job_id"
	ctxChatID  ctxKey = "chat_id"
)

// With attaches the trace, job and chat ids carried by ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v, ok := ctx.Value(ctxTraceID).(string); ok {
		l = l.Str("trace_id", v)
	}
	if v, ok := ctx.Value(ctxJobID).(string); ok {
		l = l.Str("job_id", v)
	}
	if v, ok := ctx.Value(ctxChatID).(string); ok {
		l = l.Str("chat_id", v)
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "JobUseCase.Submit")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact shortens prompts and replies for logs when not in dev.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if utf8.RuneCountInString(s) <= 8 {
		return "***"
	}
	r := []rune(s)
	return string(r[:4]) + "..." + string(r[len(r)-2:])
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxJobID, id)
}

func WithChatID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxChatID, id)
}

func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxTraceID).(string)
	return v
}
