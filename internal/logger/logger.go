// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the process-wide leveled logger every other
// package in this module calls into, instead of the standard library's
// bare "log" package. It generalizes gcsfuse's internal/logger: the same
// five-severity slog wrapper with a text/json handler switch, trimmed of
// GCS-specific log rotation since nothing in this module ever runs inside
// a managed GCS VM image.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Severity levels, ordered the way /proc/sys-adjacent tools expect: more
// detail as the value decreases. These map onto slog.Level via an offset so
// that slog's own leveling (Enabled, HandlerOptions.Level) does the
// filtering work instead of a second comparison elsewhere.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(16)
)

// Severity name constants accepted by SetLevel, matching the strings a CLI
// --logging.severity flag or config file would carry.
const (
	SeverityTrace   = "TRACE"
	SeverityDebug   = "DEBUG"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
	SeverityOff     = "OFF"
)

func severityToLevel(s string) slog.Level {
	switch s {
	case SeverityTrace:
		return LevelTrace
	case SeverityDebug:
		return LevelDebug
	case SeverityWarning:
		return LevelWarn
	case SeverityError:
		return LevelError
	case SeverityOff:
		return LevelOff
	default:
		return LevelInfo
	}
}

// loggerFactory owns the handler configuration (where logs go, at what
// format, at what level) so SetLevel/SetFormat/InitLogFile can rebuild
// defaultLogger without every call site needing to know about slog.
type loggerFactory struct {
	mu     sync.Mutex
	out    io.Writer
	file   *os.File
	format string // "text" or "json"
	level  *slog.LevelVar
}

func (f *loggerFactory) handler() slog.Handler {
	opts := &slog.HandlerOptions{
		Level: f.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				return slog.String("severity", levelName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}
	if f.format == "json" {
		return slog.NewJSONHandler(f.out, opts)
	}
	return slog.NewTextHandler(f.out, opts)
}

func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARNING"
	default:
		return "ERROR"
	}
}

var (
	defaultLoggerFactory = &loggerFactory{
		out:    os.Stderr,
		format: "text",
		level:  func() *slog.LevelVar { v := new(slog.LevelVar); v.Set(LevelInfo); return v }(),
	}
	defaultLogger   = slog.New(defaultLoggerFactory.handler())
	defaultLoggerMu sync.Mutex
)

func rebuild() {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = slog.New(defaultLoggerFactory.handler())
}

// SetLevel sets the process-wide minimum severity logged, by name (one of
// the Severity* constants). Unrecognized names are treated as INFO.
func SetLevel(severity string) {
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.level.Set(severityToLevel(severity))
	defaultLoggerFactory.mu.Unlock()
}

// SetFormat switches between "text" and "json" output; any other value
// (including the empty string) falls back to json, matching gcsfuse's own
// "be liberal about what counts as structured" default.
func SetFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	if format != "text" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	defaultLoggerFactory.mu.Unlock()
	rebuild()
}

// InitLogFile redirects logging from stderr to the file at path, creating
// or appending to it. There is no rotation: operators who need it run this
// process under an external rotator (logrotate, the container runtime's own
// log driver), since nothing in this module's domain touches GCS-managed
// VM images the way gcsfuse's lumberjack-based rotation did.
func InitLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", path, err)
	}

	defaultLoggerFactory.mu.Lock()
	old := defaultLoggerFactory.file
	defaultLoggerFactory.file = f
	defaultLoggerFactory.out = f
	defaultLoggerFactory.mu.Unlock()
	rebuild()

	if old != nil {
		old.Close()
	}
	return nil
}

func log(ctx context.Context, level slog.Level, format string, args ...any) {
	defaultLoggerMu.Lock()
	l := defaultLogger
	defaultLoggerMu.Unlock()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { log(context.Background(), LevelTrace, format, args...) }
func Debugf(format string, args ...any) { log(context.Background(), LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log(context.Background(), LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log(context.Background(), LevelWarn, format, args...) }
func Errorf(format string, args ...any) { log(context.Background(), LevelError, format, args...) }

// TracefCtx through ErrorfCtx thread a context through for slog handlers
// that key off it (e.g. trace-id injection), mirroring the *Ctx variants
// gcsfuse's callers in fs/fs.go use on every FUSE op.
func TracefCtx(ctx context.Context, format string, args ...any) { log(ctx, LevelTrace, format, args...) }
func DebugfCtx(ctx context.Context, format string, args ...any) { log(ctx, LevelDebug, format, args...) }
func InfofCtx(ctx context.Context, format string, args ...any)  { log(ctx, LevelInfo, format, args...) }
func WarnfCtx(ctx context.Context, format string, args ...any)  { log(ctx, LevelWarn, format, args...) }
func ErrorfCtx(ctx context.Context, format string, args ...any) { log(ctx, LevelError, format, args...) }
