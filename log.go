package librq

import (
	"bytes"
	"log"
	"os"
	"strings"

	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/hashicorp/logutils"
)

// logLevels mirrors the level set serf's agent filters on; kept small and
// fixed rather than configurable per-message.
var logLevels = []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERR"}

// syslogWrapper adapts a gsyslog.Syslogger into an io.Writer, mapping the
// "[LEVEL]" prefix logutils.LevelFilter leaves on each line back onto a
// syslog priority. This is the same shape hashicorp agents use to tee
// their logutils-filtered logger into syslog.
type syslogWrapper struct {
	sink gsyslog.Syslogger
}

func (s *syslogWrapper) Write(p []byte) (int, error) {
	pri := gsyslog.LOG_NOTICE
	line := string(bytes.TrimRight(p, "\n"))
	switch {
	case strings.Contains(line, "[DEBUG]"):
		pri = gsyslog.LOG_DEBUG
	case strings.Contains(line, "[WARN]"):
		pri = gsyslog.LOG_WARNING
	case strings.Contains(line, "[ERR]"):
		pri = gsyslog.LOG_ERR
	}
	if err := s.sink.WriteLevel(pri, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// newLogger builds the client's logger: a filtered *log.Logger writing to
// cfg.LogOutput (defaulting to stderr), and, if cfg.EnableSyslog is set, a
// second filtered sink teed to the local syslog daemon at the requested
// facility.
func newLogger(cfg Config) (*log.Logger, error) {
	out := cfg.LogOutput
	if out == nil {
		out = os.Stderr
	}

	minLevel := cfg.LogLevel
	if minLevel == "" {
		minLevel = "INFO"
	}

	filter := &logutils.LevelFilter{
		Levels:   logLevels,
		MinLevel: logutils.LogLevel(minLevel),
		Writer:   out,
	}

	if !cfg.EnableSyslog {
		return log.New(filter, "", log.LstdFlags), nil
	}

	facility := cfg.SyslogFacility
	if facility == "" {
		facility = "LOCAL0"
	}
	sink, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, facility, "librq")
	if err != nil {
		return nil, err
	}
	syslogFilter := &logutils.LevelFilter{
		Levels:   logLevels,
		MinLevel: logutils.LogLevel(minLevel),
		Writer:   &syslogWrapper{sink: sink},
	}

	return log.New(&multiWriter{filter, syslogFilter}, "", log.LstdFlags), nil
}

// multiWriter fans a single Write out to every writer in the slice,
// analogous to io.MultiWriter but tolerant of an individual sink erroring
// (syslog being unavailable should not silence stderr logging).
type multiWriter []interface{ Write([]byte) (int, error) }

func (m *multiWriter) Write(p []byte) (int, error) {
	for _, w := range *m {
		_, _ = w.Write(p)
	}
	return len(p), nil
}
