package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger is a value-type structured logger.
//
// A Logger obtained from a Service follows every Service.Apply, so
// components keep their logger across config reloads. The zero value
// discards everything.
type Logger struct {
	svc    *Service
	sink   *zerolog.Logger // standalone loggers only
	comp   string
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{sink: &zl}
}

// NewConsole is a standalone console logger for use before the config is
// loaded.
func NewConsole(level string) Logger {
	setGlobals()
	zl := zerolog.New(newConsoleWriter(Stdout())).Level(ParseLevel(level, LevelInfo)).With().Timestamp().Logger()
	return Logger{sink: &zl}
}

// New writes JSON lines to w.
func New(w io.Writer, level string) Logger {
	setGlobals()
	zl := zerolog.New(w).Level(ParseLevel(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{sink: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.sink == nil && len(l.fields) == 0 }

// With returns a copy carrying extra fixed fields.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

// Component tags the logger with comp=name. The level of a component
// logger can be overridden per name through Config.Components.
func (l Logger) Component(name string) Logger {
	cp := l.With(String("comp", name))
	cp.comp = name
	return cp
}

// Enabled reports whether a line at level would be written.
func (l Logger) Enabled(level Level) bool {
	_, ok := l.target(level)
	return ok
}

func (l Logger) Trace(msg string, fields ...Field) { l.log(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// target picks the sink and applies the effective level threshold.
func (l Logger) target(level Level) (zerolog.Logger, bool) {
	switch {
	case l.svc != nil:
		st := l.svc.state.Load()
		threshold := st.level
		if lv, ok := st.components[l.comp]; ok && l.comp != "" {
			threshold = lv
		}
		return st.out, level >= threshold
	case l.sink != nil:
		return *l.sink, level >= l.sink.GetLevel()
	default:
		return zerolog.Nop(), false
	}
}

func (l Logger) log(level Level, msg string, fields []Field) {
	zl, ok := l.target(level)
	if !ok {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// log <- Info/Debug/... <- call site
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}
