package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	mu       sync.RWMutex
	logger   zerolog.Logger
	initOnce sync.Once
)

// initLogger sets up the global logger to write human-readable lines to stderr.
func initLogger() {
	initOnce.Do(func() {
		logger = newLogger(os.Stderr, false).Level(zerolog.InfoLevel)
	})
}

func newLogger(w io.Writer, jsonFormat bool) zerolog.Logger {
	if !jsonFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat, NoColor: true}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure replaces the global sink. format is "console" (default) or "json".
func Configure(w io.Writer, format string, level Level) {
	initLogger()
	if w == nil {
		w = os.Stderr
	}
	jsonFormat := strings.EqualFold(strings.TrimSpace(format), "json")

	mu.Lock()
	logger = newLogger(w, jsonFormat).Level(toZerolog(level))
	mu.Unlock()
}

// SetOutput keeps the current level and redirects output to w in JSON form.
// Mostly useful for tests that inspect log lines.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	lvl := logger.GetLevel()
	logger = newLogger(w, true).Level(lvl)
	mu.Unlock()
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	logger = logger.Level(toZerolog(l))
	mu.Unlock()
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(zerolog.DebugLevel, msg, nil, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(zerolog.InfoLevel, msg, nil, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zerolog.WarnLevel, msg, nil, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(zerolog.ErrorLevel, msg, err, kv...)
}

func logWithLevel(level zerolog.Level, msg string, err error, kv ...any) {
	initLogger()

	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}
	applyKVs(ev, kv...)
	ev.Msg(msg)
}

// applyKVs expects kv as pairs: key, value, key, value, ...
// A trailing key without value is ignored.
func applyKVs(ev *zerolog.Event, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			ev.Str(key, v)
		case int:
			ev.Int(key, v)
		case int64:
			ev.Int64(key, v)
		case bool:
			ev.Bool(key, v)
		case time.Duration:
			ev.Dur(key, v)
		case time.Time:
			ev.Time(key, v)
		case error:
			ev.AnErr(key, v)
		case fmt.Stringer:
			ev.Str(key, v.String())
		default:
			ev.Interface(key, v)
		}
	}
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
