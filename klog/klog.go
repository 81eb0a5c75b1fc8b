// Package klog provides the structured logging interface shared by every
// kernel subsystem (scheduler, alarm queue, network stack, file system).
//
// Subsystems never import zerolog directly; each keeps a package-level
// klog.Logger (klog.Default().With(name)) that its SetLogger function
// replaces, and logs state transitions at Debug and failures at
// Warn/Error. This keeps subsystem packages backend-agnostic the same way
// eventloop.Logger decouples the event loop from any particular logging
// framework.
package klog

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors the small, fixed level set used across the kernel.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// Logger is the minimal leveled logging surface every subsystem depends on.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	// With returns a logger that tags every message with a "subsystem"
	// field, e.g. klog.Default().With("minisocket").
	With(subsystem string) Logger
}

// zlogger adapts zerolog.Logger to Logger.
type zlogger struct {
	z         zerolog.Logger
	subsystem string
}

// NewZerolog builds a Logger backed by zerolog writing to w at the given
// minimum level.
func NewZerolog(w *os.File, level Level) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	z := zerolog.New(w).With().Timestamp().Logger().Level(toZerolog(level))
	return &zlogger{z: z}
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zlogger) event(ev *zerolog.Event, msg string, kv []any) {
	if l.subsystem != "" {
		ev = ev.Str("subsystem", l.subsystem)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func (l *zlogger) Debug(msg string, kv ...any) { l.event(l.z.Debug(), msg, kv) }
func (l *zlogger) Info(msg string, kv ...any)  { l.event(l.z.Info(), msg, kv) }
func (l *zlogger) Warn(msg string, kv ...any)  { l.event(l.z.Warn(), msg, kv) }
func (l *zlogger) Error(msg string, kv ...any) { l.event(l.z.Error(), msg, kv) }

func (l *zlogger) With(subsystem string) Logger {
	return &zlogger{z: l.z, subsystem: subsystem}
}

// noop discards everything; used as the zero-value default so subsystems
// never need a nil check.
type noop struct{}

func (noop) Debug(string, ...any)    {}
func (noop) Info(string, ...any)     {}
func (noop) Warn(string, ...any)     {}
func (noop) Error(string, ...any)    {}
func (n noop) With(string) Logger    { return n }

var (
	mu      sync.RWMutex
	current Logger = noop{}
)

// SetDefault installs the process-wide default logger used by Default().
func SetDefault(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Default returns the process-wide logger. It is safe to call before
// SetDefault; callers get a no-op logger until one is installed.
func Default() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
