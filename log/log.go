// Package log is a thin wrapper around a global zerolog logger. Every package
// of the node logs through it so that level and output are configured once at
// startup.
package log

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	RFC3339Milli = "2006-01-02T15:04:05.000Z07:00" // like time.RFC3339Nano but with 3 fixed-width decimals
)

var (
	log   zerolog.Logger
	logMu sync.RWMutex
)

func init() {
	// LOG_LEVEL overrides the default so tests can be made verbose without
	// touching code.
	Init(cmp.Or(os.Getenv("LOG_LEVEL"), LogLevelError), "stderr", nil)
}

// Logger provides access to the global logger (zerolog).
func Logger() *zerolog.Logger {
	logger := getLogger()
	return &logger
}

func getLogger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

func setLogger(logger zerolog.Logger) {
	logMu.Lock()
	log = logger
	logMu.Unlock()
}

// errorLevelWriter forwards only warning and error entries, used for the
// optional error log file.
type errorLevelWriter struct {
	io.Writer
}

var _ zerolog.LevelWriter = &errorLevelWriter{}

func (w *errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// Init configures the global logger. Output can be "stdout", "stderr" or a
// file path; paths ending in ".json" receive raw JSON lines while the console
// keeps the human readable format. If errorOutput is not nil, warnings and
// errors are also copied there without colors.
func Init(level, output string, errorOutput io.Writer) {
	InitWithWriter(level, output, nil, errorOutput)
}

// InitWithWriter is like Init but writes to w when output is empty. Tests use
// it to capture log lines.
func InitWithWriter(level, output string, w io.Writer, errorOutput io.Writer) {
	var out io.Writer
	outputs := []io.Writer{}
	switch {
	case output == "" && w != nil:
		out = w
	case output == "stdout":
		out = os.Stdout
	case output == "stderr", output == "":
		out = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			panic(fmt.Sprintf("cannot create log output: %v", err))
		}
		out = f
		if strings.HasSuffix(output, ".json") {
			outputs = append(outputs, f)
			out = os.Stdout
		}
	}
	outputs = append(outputs, zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: RFC3339Milli,
		NoColor:    w != nil,
	})
	if errorOutput != nil {
		outputs = append(outputs, &errorLevelWriter{zerolog.ConsoleWriter{
			Out:        errorOutput,
			TimeFormat: RFC3339Milli,
			NoColor:    true,
		}})
	}
	out = outputs[0]
	if len(outputs) > 1 {
		out = zerolog.MultiLevelWriter(outputs...)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.CallerSkipFrameCount = 3
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return fmt.Sprintf("%s/%s:%d", path.Base(path.Dir(file)), path.Base(file), line)
	}
	logger := zerolog.New(out).With().Timestamp().Caller().Logger()

	lvl, err := parseLevel(level)
	if err != nil {
		panic(err.Error())
	}
	logger = logger.Level(lvl)

	setLogger(logger)
	logger.Debug().Msgf("logger ready at level %s with output %q", level, output)
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel, nil
	case LogLevelInfo:
		return zerolog.InfoLevel, nil
	case LogLevelWarn:
		return zerolog.WarnLevel, nil
	case LogLevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid log level: %q", level)
	}
}

// ValidLevel reports whether level is accepted by Init.
func ValidLevel(level string) bool {
	_, err := parseLevel(level)
	return err == nil
}

// Level returns the current log level
func Level() string {
	switch getLogger().GetLevel() {
	case zerolog.DebugLevel:
		return LogLevelDebug
	case zerolog.InfoLevel:
		return LogLevelInfo
	case zerolog.WarnLevel:
		return LogLevelWarn
	default:
		return LogLevelError
	}
}

// Debug sends a debug level log message
func Debug(args ...any) {
	logger := getLogger()
	if logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	logger.Debug().Msg(fmt.Sprint(args...))
}

// Info sends an info level log message
func Info(args ...any) {
	logger := getLogger()
	logger.Info().Msg(fmt.Sprint(args...))
}

// Warn sends a warn level log message
func Warn(args ...any) {
	logger := getLogger()
	logger.Warn().Msg(fmt.Sprint(args...))
}

// Error sends an error level log message
func Error(args ...any) {
	logger := getLogger()
	logger.Error().Msg(fmt.Sprint(args...))
}

// Fatalf sends a formatted fatal level log message and exits.
func Fatalf(template string, args ...any) {
	Logger().Fatal().Msgf(template+"\n"+string(debug.Stack()), args...)
}

// Monitor logs msg at info level with the given fields and without caller
// information. Used for periodic progress reports.
func Monitor(msg string, fields map[string]any) {
	logger := getLogger()
	logger.Info().CallerSkipFrame(100).Fields(fields).Msg(msg)
}

// Debugw sends a debug level log message with key-value pairs.
func Debugw(msg string, keyvalues ...any) {
	Logger().Debug().Fields(keyvalues).Msg(msg)
}

// Infow sends an info level log message with key-value pairs.
func Infow(msg string, keyvalues ...any) {
	Logger().Info().Fields(keyvalues).Msg(msg)
}

// Warnw sends a warning level log message with key-value pairs.
func Warnw(msg string, keyvalues ...any) {
	Logger().Warn().Fields(keyvalues).Msg(msg)
}

// Errorw sends an error level log message with a special format for errors.
func Errorw(err error, msg string) {
	Logger().Error().Err(err).Msg(msg)
}

// Scoped is a logger that prepends a fixed set of key-value pairs to every
// entry. Long lived components (a tally engine, a service loop) keep one so
// their log lines can be filtered by poll and tallier.
type Scoped struct {
	fields []any
}

// With returns a Scoped logger carrying keyvalues.
func With(keyvalues ...any) *Scoped {
	return &Scoped{fields: keyvalues}
}

func (s *Scoped) merge(keyvalues []any) []any {
	out := make([]any, 0, len(s.fields)+len(keyvalues))
	out = append(out, s.fields...)
	return append(out, keyvalues...)
}

// Debugw logs at debug level with the scope fields and keyvalues.
func (s *Scoped) Debugw(msg string, keyvalues ...any) {
	Logger().Debug().Fields(s.merge(keyvalues)).Msg(msg)
}

// Infow logs at info level with the scope fields and keyvalues.
func (s *Scoped) Infow(msg string, keyvalues ...any) {
	Logger().Info().Fields(s.merge(keyvalues)).Msg(msg)
}

// Warnw logs at warn level with the scope fields and keyvalues.
func (s *Scoped) Warnw(msg string, keyvalues ...any) {
	Logger().Warn().Fields(s.merge(keyvalues)).Msg(msg)
}

// Errorw logs err at error level with the scope fields.
func (s *Scoped) Errorw(err error, msg string) {
	Logger().Error().Err(err).Fields(s.fields).Msg(msg)
}

// Since is a helper to log durations consistently.
func Since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
