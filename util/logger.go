// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// traceLevel sits below zap's debug level so -vvv output keeps its own tag.
const traceLevel = zapcore.DebugLevel - 1

var levelTags = map[zapcore.Level]string{
	zapcore.ErrorLevel: "ERR",
	zapcore.WarnLevel:  "WRN",
	zapcore.InfoLevel:  "INF",
	zapcore.DebugLevel: "VRB",
	traceLevel:         "DBG",
}

// ANSI SGR codes per level.
var levelColors = map[zapcore.Level]string{
	zapcore.ErrorLevel: "31",
	zapcore.WarnLevel:  "33",
	zapcore.InfoLevel:  "32",
	zapcore.DebugLevel: "36",
	traceLevel:         "35",
}

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Formatting and output are handled by a zap
// console core; the verbosity gate stays here so the -v count maps
// directly onto Verbose and Debug.
type Logger struct {
	level      LogLevel
	output     io.Writer
	mu         sync.Mutex
	timestamps bool // if true, prepend HH:MM:SS.mmm timestamps
	color      bool // if true, colorize level tags
	zl         *zap.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = on
	l.rebuild()
}

// SetColor enables or disables ANSI-colored level tags.
func (l *Logger) SetColor(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Sync flushes any buffered output.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl.Sync()
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapcore.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapcore.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(zapcore.DebugLevel, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(traceLevel, format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zapcore.ErrorLevel, format, args...)
}

func (l *Logger) write(lvl zapcore.Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ce := l.zl.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

// rebuild swaps in a zap core matching the current settings.  Callers
// hold l.mu.
func (l *Logger) rebuild() {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	if l.timestamps {
		cfg.TimeKey = "T"
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	cfg.NameKey = ""
	cfg.ConsoleSeparator = " "
	cfg.EncodeLevel = encodeLevel(l.color)

	enabled := zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(l.output)), enabled)
	l.zl = zap.New(core)
}

func encodeLevel(color bool) zapcore.LevelEncoder {
	return func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		tag := "[" + levelTags[lvl] + "]"
		if color {
			tag = "\x1b[" + levelColors[lvl] + "m" + tag + "\x1b[0m"
		}
		enc.AppendString(tag)
	}
}
