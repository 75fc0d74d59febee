// Package util holds process-wide helpers: logging setup, login crypto and
// host introspection.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "conduit_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	// MaxSizeMB starts a numbered file for the day once the current one is
	// this large. Zero never rolls over.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups is how many log files are kept in Directory.
	MaxBackups int  `json:"max_backups"`
	Console    bool `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger points the global zerolog logger at a JSON log file in
// cfg.Directory and, if asked, a console writer. It may be called again
// after the config is loaded. The earlier file stays open because loggers
// derived before the call still write to it.
func InitLogger(cfg LogConfig) error {
	level, levelErr := zerolog.ParseLevel(cfg.Level)
	if levelErr != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	path := logFilePath(cfg.Directory, time.Now(), int64(cfg.MaxSizeMB)*1024*1024)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	writers := []io.Writer{f}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			PartsExclude: []string{
				zerolog.CallerFieldName,
			},
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "conduit").
		Int("pid", os.Getpid()).
		Caller().
		Logger()

	event := log.Info().Str("level", level.String()).Str("log_file", path)
	if levelErr != nil {
		event = event.Str("requested_level", cfg.Level)
	}
	event.Msg("logger initialized")

	go pruneLogFiles(cfg.Directory, cfg.MaxBackups)
	return nil
}

// logFilePath picks today's file, or the first numbered sibling still under
// maxBytes once the day's file has grown past it.
func logFilePath(dir string, now time.Time, maxBytes int64) string {
	day := now.Format("2006-01-02")
	path := filepath.Join(dir, logFilePrefix+day+".log")
	if maxBytes <= 0 {
		return path
	}
	for n := 1; ; n++ {
		info, err := os.Stat(path)
		if err != nil || info.Size() < maxBytes {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s%s.%d.log", logFilePrefix, day, n))
	}
}

// pruneLogFiles keeps the newest keep log files written by this process and
// leaves anything else in dir alone.
func pruneLogFiles(dir string, keep int) {
	if keep <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var files []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, logFilePrefix) || filepath.Ext(name) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	if len(files) <= keep {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ModTime().Before(files[j].ModTime()) })
	for _, info := range files[:len(files)-keep] {
		path := filepath.Join(dir, info.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("failed to remove old log file")
			continue
		}
		log.Debug().Str("file", path).Msg("removed old log file")
	}
}
