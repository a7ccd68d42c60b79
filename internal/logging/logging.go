// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// Options selects level, format and an optional log file.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // empty disables file output
}

// New returns a logger writing to stdout and, when configured, to a file.
// The returned closer releases the file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	out := io.Writer(os.Stdout)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}
	log.SetOutput(out)
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// JobHook mirrors every log entry into a status job so it can be streamed.
type JobHook struct {
	Job *models.Job
}

// Levels implements logrus.Hook.
func (h *JobHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *JobHook) Fire(e *logrus.Entry) error {
	var b strings.Builder
	if e.Level <= logrus.WarnLevel {
		b.WriteString(strings.ToUpper(e.Level.String()))
		b.WriteString(": ")
	}
	if step, ok := e.Data["step"]; ok {
		fmt.Fprintf(&b, "[%v] ", step)
	}
	b.WriteString(e.Message)
	h.Job.AppendLog(b.String())
	return nil
}
