package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile    = "./fifosched.log"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig

	// Components maps a comp name (see Logger.Component) to its own level,
	// e.g. {"engine": "debug"} while the rest stays at info.
	Components map[string]string
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks. Apply swaps them at runtime; loggers derived from
// the service pick up the change on their next line.
type Service struct {
	mu   sync.Mutex // serializes Apply and Close
	file *os.File

	state atomic.Pointer[sinkState]
}

type sinkState struct {
	// out is built at trace level; filtering happens in Logger.target so
	// component overrides can be looser than the global level.
	out        zerolog.Logger
	level      Level
	components map[string]Level
}

// NewService applies cfg and returns the service with its root logger.
func NewService(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply rebuilds the sinks from cfg. A file that cannot be opened is
// reported on stderr and skipped; console output is the fallback when no
// sink remains.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}

	var file *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: open %s: %v\n", path, err)
		} else {
			file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}

	comps := make(map[string]Level, len(cfg.Components))
	for name, lv := range cfg.Components {
		if lvl, err := parseLevel(lv); err == nil {
			comps[strings.TrimSpace(name)] = lvl
		}
	}

	s.state.Store(&sinkState{
		out:        zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(LevelTrace).With().Timestamp().Logger(),
		level:      ParseLevel(cfg.Level, LevelInfo),
		components: comps,
	})

	// Swap before closing so no writer sees a closed file.
	old := s.file
	s.file = file
	if old != nil {
		_ = old.Close()
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = consoleTimeFormat
	})
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

var errUnknownLevel = errors.New("unknown log level")

// ParseLevel maps a level name to a Level, falling back to def for blank
// or unknown names.
func ParseLevel(s string, def Level) Level {
	lvl, err := parseLevel(s)
	if err != nil {
		return def
	}
	return lvl
}

// ValidateLevel accepts blank (meaning the default) and the names ParseLevel knows.
func ValidateLevel(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := parseLevel(s)
	return err
}

func parseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w %q", errUnknownLevel, s)
	}
}

// Stdout is the console sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr receives logx's own failures.
func Stderr() io.Writer { return os.Stderr }
