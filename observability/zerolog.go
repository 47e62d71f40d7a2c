package observability

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	z zerolog.Logger
}

// NewZerolog adapts a zerolog.Logger to Logger.
func NewZerolog(z zerolog.Logger) Logger { return zerologLogger{z: z} }

// NewConsole returns a human-readable logger writing to w at the named level
// ("debug", "info", "warn", "error"). format "json" selects structured
// output instead.
func NewConsole(w io.Writer, level, format string) (Logger, error) {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}
	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	z := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return NewZerolog(z), nil
}

func (l zerologLogger) Debug(msg string, fields ...Field) { emit(l.z.Debug(), msg, fields) }
func (l zerologLogger) Info(msg string, fields ...Field)  { emit(l.z.Info(), msg, fields) }
func (l zerologLogger) Warn(msg string, fields ...Field)  { emit(l.z.Warn(), msg, fields) }
func (l zerologLogger) Error(msg string, fields ...Field) { emit(l.z.Error(), msg, fields) }

func (l zerologLogger) With(fields ...Field) Logger {
	ctx := l.z.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key(), f.Value())
	}
	return zerologLogger{z: ctx.Logger()}
}

func emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value().(type) {
		case string:
			ev = ev.Str(f.Key(), v)
		case int:
			ev = ev.Int(f.Key(), v)
		case int64:
			ev = ev.Int64(f.Key(), v)
		case float64:
			ev = ev.Float64(f.Key(), v)
		case bool:
			ev = ev.Bool(f.Key(), v)
		case time.Duration:
			ev = ev.Dur(f.Key(), v)
		case error:
			ev = ev.AnErr(f.Key(), v)
		default:
			ev = ev.Interface(f.Key(), v)
		}
	}
	ev.Msg(msg)
}
