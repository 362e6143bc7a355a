// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/config"
)

const redacted = "[REDACTED]"

var secretSource atomic.Pointer[func() string]

// Setup points the global logger at stderr and mirrors error-level events
// into a daily rotated file under cfg.ErrorLogDir. The returned closer
// releases the file.
func Setup(cfg config.LoggingConfig, production bool) (io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if !production && cfg.Format != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if cfg.ErrorLogDir == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(cfg.ErrorLogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	rotation := cfg.RotationTime
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}

	errorFile, err := rotatelogs.New(
		filepath.Join(cfg.ErrorLogDir, "error.%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(cfg.ErrorLogDir, "error.log")),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	multi := zerolog.MultiLevelWriter(console, errorLevelWriter{w: errorFile})
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return errorFile, nil
}

// errorLevelWriter drops everything below error level.
type errorLevelWriter struct {
	w io.Writer
}

func (e errorLevelWriter) Write(p []byte) (int, error) {
	return e.w.Write(p)
}

func (e errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel {
		return len(p), nil
	}
	return e.w.Write(p)
}

// Redact replaces every occurrence of the given secrets in msg.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, s, redacted)
	}
	return msg
}

// SetSecretSource registers the lookup used by RedactSecrets, normally the
// live API key.
func SetSecretSource(fn func() string) {
	secretSource.Store(&fn)
}

// RedactSecrets is Redact with the secret from the registered source.
func RedactSecrets(msg string) string {
	fn := secretSource.Load()
	if fn == nil || *fn == nil {
		return msg
	}
	return Redact(msg, (*fn)())
}
