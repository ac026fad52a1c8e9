// Package logging provides the RFC 5424 structured logger used across anxun.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Logger defines the interface for logging operations
type Logger interface {
	LogInfo(message string, meta map[string]string)
	LogWarn(message string, meta map[string]string)
	LogError(message string, meta map[string]string)
	LogDebug(message string, meta map[string]string)
}

// RFC5424Logger writes one RFC 5424 syslog line per entry.
type RFC5424Logger struct {
	appName   string
	hostname  string
	processID string
	facility  rfc5424.Priority
	minLevel  rfc5424.Priority

	mu  sync.Mutex
	out io.Writer
	seq uint64
}

// New creates a logger writing to out. level is one of debug, info, warn,
// error; unknown values fall back to info.
func New(appName string, out io.Writer, level string) *RFC5424Logger {
	if out == nil {
		out = os.Stderr
	}
	return &RFC5424Logger{
		appName:   appName,
		hostname:  hostname(),
		processID: strconv.Itoa(os.Getpid()),
		facility:  rfc5424.User,
		minLevel:  ParseLevel(level),
		out:       out,
	}
}

// ParseLevel maps a level name to a syslog severity.
func ParseLevel(level string) rfc5424.Priority {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return rfc5424.Debug
	case "warn", "warning":
		return rfc5424.Warning
	case "error":
		return rfc5424.Error
	default:
		return rfc5424.Info
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

func (l *RFC5424Logger) write(severity rfc5424.Priority, message string, meta map[string]string) {
	// Lower syslog severity values are more severe.
	if severity > l.minLevel {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++

	msg := &rfc5424.Message{
		Priority:  l.facility | severity,
		Timestamp: time.Now().UTC(),
		Hostname:  l.hostname,
		AppName:   l.appName,
		ProcessID: l.processID,
		MessageID: fmt.Sprintf("ID%d", l.seq%100000),
		Message:   []byte(message),
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg.AddDatum("meta@1", k, meta[k])
	}

	if _, err := msg.WriteTo(l.out); err != nil {
		// Fall back to a hand-built line so the entry is not lost.
		fmt.Fprintf(l.out, "<%d>1 %s %s %s %s - - %s",
			int(l.facility|severity), msg.Timestamp.Format(time.RFC3339),
			l.hostname, l.appName, l.processID, message)
	}
	fmt.Fprintln(l.out)
}

// LogInfo logs an informational message (severity Info)
func (l *RFC5424Logger) LogInfo(message string, meta map[string]string) {
	l.write(rfc5424.Info, message, meta)
}

// LogWarn logs a warning message (severity Warning)
func (l *RFC5424Logger) LogWarn(message string, meta map[string]string) {
	l.write(rfc5424.Warning, message, meta)
}

// LogError logs an error message (severity Error)
func (l *RFC5424Logger) LogError(message string, meta map[string]string) {
	l.write(rfc5424.Error, message, meta)
}

// LogDebug logs a debug message (severity Debug)
func (l *RFC5424Logger) LogDebug(message string, meta map[string]string) {
	l.write(rfc5424.Debug, message, meta)
}

type nopLogger struct{}

func (nopLogger) LogInfo(string, map[string]string)  {}
func (nopLogger) LogWarn(string, map[string]string)  {}
func (nopLogger) LogError(string, map[string]string) {}
func (nopLogger) LogDebug(string, map[string]string) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
