package logging

import (
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

// HistorySize is the number of recent entries kept for the logs endpoint.
const HistorySize = 1000

// Logger is satisfied by *slog.Logger. Packages that only emit logs take
// this instead of the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the global level, output format and per-module overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	mu          sync.RWMutex
	modules     = make(map[string]*moduleLogger)
	current     Config
	initialized bool
	history     = NewHistory(HistorySize)
)

// Initialize applies cfg to every existing and future module logger and
// replaces the default slog logger. Loggers handed out before Initialize
// keep working: their level follows the new config and their handler chain
// is rebuilt for the new format.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	initialized = true

	for name, m := range modules {
		m.level.Set(levelFor(name))
		*m.logger = *slog.New(newHandler(cfg.Format, m.level)).With("module", name)
	}

	global := &slog.LevelVar{}
	global.Set(parseLevelOr(cfg.Level, slog.LevelInfo))
	slog.SetDefault(slog.New(newHandler(cfg.Format, global)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	m, ok := modules[module]
	mu.RUnlock()
	if ok {
		return m.logger
	}

	mu.Lock()
	defer mu.Unlock()
	if m, ok := modules[module]; ok {
		return m.logger
	}

	level := &slog.LevelVar{}
	format := "text"
	if initialized {
		level.Set(levelFor(module))
		format = current.Format
	}
	m = &moduleLogger{
		logger: slog.New(newHandler(format, level)).With("module", module),
		level:  level,
	}
	modules[module] = m
	return m.logger
}

// SetLevel changes a module's level at runtime.
func SetLevel(module, level string) bool {
	parsed := parseLevel(level)
	if parsed == nil {
		return false
	}
	GetLogger(module)

	mu.Lock()
	defer mu.Unlock()
	modules[module].level.Set(*parsed)
	if current.Modules == nil {
		current.Modules = make(map[string]string)
	}
	current.Modules[module] = strings.ToLower(level)
	return true
}

// Levels returns the effective level of every module logger created so far.
func Levels() map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]string, len(modules))
	for name, m := range modules {
		out[name] = levelName(m.level.Level())
	}
	return out
}

// Modules returns the names of every module logger, sorted.
func Modules() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetHistory returns the in-memory log history.
func GetHistory() *History {
	return history
}

// levelFor resolves a module's level from the current config. Callers hold mu.
func levelFor(module string) slog.Level {
	level := parseLevelOr(current.Level, slog.LevelInfo)
	if s, ok := current.Modules[module]; ok {
		level = parseLevelOr(s, level)
	}
	return level
}

// newHandler builds the handler chain: stdout when something is attached,
// the journal when running under systemd, and always the history.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if stdoutAttached() {
		handlers = append(handlers, stdout)
	}
	if JournalAvailable() {
		handlers = append(handlers, newJournalHandler(level))
	}
	handlers = append(handlers, newHistoryHandler(history, level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewFanout(handlers...)
}

// stdoutAttached reports whether stdout is a terminal, pipe, socket or file.
// /dev/null is a device and is treated as detached.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}

func parseLevelOr(level string, fallback slog.Level) slog.Level {
	if l := parseLevel(level); l != nil {
		return *l
	}
	return fallback
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
