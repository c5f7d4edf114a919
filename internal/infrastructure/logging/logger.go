package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose level can be raised to debug at runtime.
// Children made with Named or With share the parent's level.
type Logger struct {
	*zap.Logger
	level *levelSwitch
}

type levelSwitch struct {
	atom zap.AtomicLevel
	base zapcore.Level
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

// DefaultConfig returns production logger configuration.
func DefaultConfig() Config {
	return Config{Level: "info", OutputPaths: []string{"stderr"}}
}

// New creates a logger. Development mode writes colored console lines;
// otherwise every line is a JSON object.
func New(cfg Config) (*Logger, error) {
	base, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}

	ls := &levelSwitch{atom: zap.NewAtomicLevelAt(base), base: base}
	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(sink)}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.DPanicLevel))
	}

	core := zapcore.NewCore(newEncoder(cfg.Development), sink, ls.atom)
	return &Logger{Logger: zap.New(core, opts...), level: ls}, nil
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, err := New(DefaultConfig())
	if err != nil {
		return NewNop()
	}
	return logger
}

// FromSettings builds a logger from a level string and mode flag, falling
// back to the default logger when the level is invalid.
func FromSettings(level string, development bool) *Logger {
	logger, err := New(Config{Level: level, Development: development})
	if err != nil {
		return NewDefault()
	}
	return logger
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), level: l.level}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level}
}

// SetVerbose lowers the level to debug, or restores the configured level.
// It affects every logger derived from the same root.
func (l *Logger) SetVerbose(on bool) {
	if l.level == nil {
		return
	}
	if on {
		l.level.atom.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.atom.SetLevel(l.level.base)
}

// Verbose reports whether debug lines are currently written.
func (l *Logger) Verbose() bool {
	return l.level != nil && l.level.atom.Enabled(zapcore.DebugLevel)
}

func newEncoder(development bool) zapcore.Encoder {
	if development {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(enc)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	return zapcore.NewJSONEncoder(enc)
}
