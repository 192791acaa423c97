package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how codelens writes its structured log.
type Config struct {
	// Level is the minimum level that reaches the handler: debug, info, warn, or error.
	Level string
	// FilePath is the rotating log file's path. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the file size, in MB, that triggers rotation.
	MaxSizeMB int
	// MaxFiles caps how many rotated files are kept alongside the active one.
	MaxFiles int
	// WriteToStderr additionally mirrors every record to stderr.
	WriteToStderr bool
}

// DefaultConfig is info-level logging to the default log path, mirrored to stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig with the level dropped to debug.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds a JSON slog.Logger writing to a rotating file (and, per cfg,
// stderr), and returns it alongside a cleanup func the caller must run to
// flush and close the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		var output io.Writer = io.Discard
		if cfg.WriteToStderr {
			output = os.Stderr
		}
		handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
		return slog.New(handler), func() {}, nil
	}

	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	output := logDestination(writer, cfg.WriteToStderr)
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	logger := slog.New(handler)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

// logDestination folds stderr mirroring into a single io.Writer.
func logDestination(writer io.Writer, alsoStderr bool) io.Writer {
	if !alsoStderr {
		return writer
	}
	return io.MultiWriter(writer, os.Stderr)
}

// SetupDefault wires DebugConfig up as the process-wide slog default logger
// and returns its cleanup func; the CLI's entry point defers this.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

// levelNames maps the lowercased config string to its slog.Level.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func parseLevel(level string) slog.Level {
	if l, ok := levelNames[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// LevelFromString exposes parseLevel: it maps the same level names Config
// accepts to a slog.Level, defaulting to info for unknown names.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
