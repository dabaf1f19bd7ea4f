// Package logging provides component loggers backed by charmbracelet/log.
// Every logger writes to a rotating file; the CLI can additionally mirror
// records to stderr, and the progress view can subscribe to a live feed.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("installer")
//	log.Info("package applied", "url", ref.URL)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a logging severity.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// String returns the lowercase level name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. "warning" is accepted as "warn".
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Config configures the logging system.
type Config struct {
	// Level is the default level for every component.
	Level string

	// Path is the log file. Empty means DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components overrides the level per component name.
	Components map[string]string

	// ConsoleLevel mirrors records at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string

	// Quiet suppresses console output even when ConsoleLevel is set.
	// The progress view uses it while it owns the terminal.
	Quiet bool

	// BufferSize keeps the most recent records in memory for display.
	// Zero disables the buffer.
	BufferSize int
}

// Entry is one record delivered to subscribers.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// Logger is a component logger.
type Logger struct {
	component string
	file      *log.Logger
	console   *log.Logger
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, kv ...interface{}) { l.emit(LevelDebug, msg, kv) }

// Info logs at info level.
func (l *Logger) Info(msg string, kv ...interface{}) { l.emit(LevelInfo, msg, kv) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, kv ...interface{}) { l.emit(LevelWarn, msg, kv) }

// Error logs at error level.
func (l *Logger) Error(msg string, kv ...interface{}) { l.emit(LevelError, msg, kv) }

// With returns a logger that adds kv to every record.
func (l *Logger) With(kv ...interface{}) *Logger {
	c := &Logger{component: l.component, file: l.file.With(kv...)}
	if l.console != nil {
		c.console = l.console.With(kv...)
	}
	return c
}

func (l *Logger) emit(level Level, msg string, kv []interface{}) {
	write(l.file, level, msg, kv)
	if l.console != nil {
		write(l.console, level, msg, kv)
	}
	if l.file.GetLevel() > level.charm() {
		return
	}
	hub.publish(Entry{Time: time.Now(), Level: level, Component: l.component, Message: msg})
}

func write(dst *log.Logger, level Level, msg string, kv []interface{}) {
	switch level {
	case LevelDebug:
		dst.Debug(msg, kv...)
	case LevelInfo:
		dst.Info(msg, kv...)
	case LevelWarn:
		dst.Warn(msg, kv...)
	case LevelError:
		dst.Error(msg, kv...)
	}
}

// registry is the process-wide logging state.
type registry struct {
	mu         sync.RWMutex
	ready      bool
	writer     *RotatingWriter
	level      Level
	components map[string]Level
	console    *Level
	loggers    map[string]*Logger
	buffer     *Buffer
	subs       map[chan Entry]struct{}
}

var hub = &registry{
	components: make(map[string]Level),
	loggers:    make(map[string]*Logger),
	subs:       make(map[chan Entry]struct{}),
}

// Init configures logging. Loggers obtained before Init discard output and
// are rebuilt in place so package-level loggers pick up the configuration.
func Init(cfg Config) error {
	level, err := ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for name, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", name, err)
		}
		components[name] = parsed
	}

	var console *Level
	if cfg.ConsoleLevel != "" && !cfg.Quiet {
		parsed, err := ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		console = &parsed
	}

	writer, err := NewRotatingWriter(orDefault(cfg.Path, DefaultLogPath()), cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.writer != nil {
		_ = hub.writer.Close()
	}
	hub.writer = writer
	hub.level = level
	hub.components = components
	hub.console = console
	hub.buffer = nil
	if cfg.BufferSize > 0 {
		hub.buffer = NewBuffer(cfg.BufferSize)
	}
	hub.ready = true

	for name, l := range hub.loggers {
		*l = *hub.build(name)
	}
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	hub.mu.RLock()
	l, ok := hub.loggers[component]
	hub.mu.RUnlock()
	if ok {
		return l
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if l, ok := hub.loggers[component]; ok {
		return l
	}
	l = hub.build(component)
	hub.loggers[component] = l
	return l
}

// build creates a logger for component. Callers hold hub.mu.
func (r *registry) build(component string) *Logger {
	level := r.level
	if override, ok := r.components[component]; ok {
		level = override
	}

	var out io.Writer = io.Discard
	if r.ready {
		out = r.writer
	}
	l := &Logger{
		component: component,
		file: log.NewWithOptions(out, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
	}

	if r.ready && r.console != nil {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.console.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Prefix:          component,
		})
	}
	return l
}

// Close flushes the log file and closes all subscriptions.
func Close() error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if !hub.ready {
		return nil
	}
	for ch := range hub.subs {
		close(ch)
		delete(hub.subs, ch)
	}

	hub.ready = false
	for name, l := range hub.loggers {
		*l = *hub.build(name)
	}

	if hub.writer == nil {
		return nil
	}
	err := hub.writer.Close()
	hub.writer = nil
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives every emitted record.
// Records are dropped for a subscriber that falls behind.
func Subscribe() <-chan Entry {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	ch := make(chan Entry, 128)
	hub.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch. The channel is not closed.
func Unsubscribe(ch <-chan Entry) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for sub := range hub.subs {
		if sub == ch {
			delete(hub.subs, sub)
			return
		}
	}
}

// Recent returns the buffered records, oldest first, or nil when buffering is off.
func Recent() []Entry {
	hub.mu.RLock()
	buf := hub.buffer
	hub.mu.RUnlock()
	if buf == nil {
		return nil
	}
	return buf.Entries()
}

func (r *registry) publish(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.buffer != nil {
		r.buffer.Add(e)
	}
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// DefaultLogPath returns $XDG_STATE_HOME/mender/mender.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "mender", "mender.log")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
