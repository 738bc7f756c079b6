package logging

import (
	"io"
	"os"
	"strings"
)

// Config selects the level and destination of the service logger. Format
// is accepted for forward compatibility; every destination currently gets
// JSON lines.
type Config struct {
	// Level is the minimum level to emit (debug, info, warn, error, fatal).
	Level string
	// Format is the output format.
	Format string
	// Output is stdout, stderr, or a file path opened for append.
	Output string
}

// NewLogger builds a Logger from cfg. A nil cfg yields an info-level
// logger on stderr.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		return New(InfoLevel, os.Stderr), nil
	}

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return New(parseLevel(cfg.Level), output), nil
}

// parseLevel maps a level name to a LogLevel, case-insensitively.
// Unrecognized names fall back to info.
func parseLevel(level string) LogLevel {
	switch candidate := LogLevel(strings.ToUpper(level)); candidate {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel:
		return candidate
	}
	return InfoLevel
}

// openOutput resolves an output name to a writer. Anything that is not a
// standard stream is treated as a file path.
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
