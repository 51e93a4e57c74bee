package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	log zerolog.Logger
}

var _ Logger = (*ZerologLogger)(nil)

// NewZerolog wraps an existing zerolog logger.
func NewZerolog(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

// Default returns a zerolog-backed logger writing to stderr.
func Default() Logger {
	return NewZerolog(zerolog.New(os.Stderr).With().Timestamp().Logger())
}

// NewZerologWriter builds a zerolog-backed logger over an arbitrary writer.
func NewZerologWriter(w io.Writer) *ZerologLogger {
	return NewZerolog(zerolog.New(w).With().Timestamp().Logger())
}

func (z *ZerologLogger) With(fields ...Field) Logger {
	ctx := z.log.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{log: ctx.Logger()}
}

func (z *ZerologLogger) Debug(msg string, fields ...Field) { emit(z.log.Debug(), msg, fields) }
func (z *ZerologLogger) Info(msg string, fields ...Field)  { emit(z.log.Info(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields ...Field)  { emit(z.log.Warn(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields ...Field) { emit(z.log.Error(), msg, fields) }

func emit(evt *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			evt = evt.AnErr(f.Key, err)
			continue
		}
		evt = evt.Interface(f.Key, f.Value)
	}
	evt.Msg(msg)
}
