package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

var (
	mu      sync.RWMutex
	base    *charmlog.Logger
	logFile *os.File
	// cfg is what Init was last called with; Close rebuilds base from it.
	cfg Config
	out io.Writer
)

// Config controls the process-wide logger.
type Config struct {
	Level  string
	JSON   bool
	File   string
	Output io.Writer
}

// Init configures the logger. When File is set, output goes to both Output
// (stdout by default) and the file.
func Init(c Config) error {
	if c.Output == nil {
		c.Output = os.Stdout
	}
	w := c.Output

	var f *os.File
	if c.File != "" {
		var err error
		f, err = os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return err
		}
		w = io.MultiWriter(w, f)
	}

	l := New(w, c.Level, c.JSON)

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	cfg = c
	out = w
	base = l
	return nil
}

// New builds a standalone logger.
func New(out io.Writer, level string, json bool) *charmlog.Logger {
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           ParseLevel(level),
	})
	if json {
		l.SetFormatter(charmlog.JSONFormatter)
	}
	return l
}

// ParseLevel maps a level name to a charm level, defaulting to info.
func ParseLevel(level string) charmlog.Level {
	lvl, err := charmlog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return charmlog.InfoLevel
	}
	return lvl
}

// Close closes the log file, if any. Later messages go to the plain output.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return
	}
	_ = logFile.Close()
	logFile = nil
	out = cfg.Output
	base = New(out, cfg.Level, cfg.JSON)
}

func get() *charmlog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		out = os.Stderr
		base = New(out, "info", false)
	}
	return base
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...any) *charmlog.Logger {
	return get().With(keyvals...)
}

func Debug(msg string, keyvals ...any) { get().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { get().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { get().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { get().Error(msg, keyvals...) }

func Infof(format string, v ...any)  { get().Infof(format, v...) }
func Warnf(format string, v ...any)  { get().Warnf(format, v...) }
func Errorf(format string, v ...any) { get().Errorf(format, v...) }
