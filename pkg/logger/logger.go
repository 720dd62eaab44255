package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelError LogLevel = "ERROR"
)

type LogFields map[string]interface{}

// Logger is the structured logger used by every component of the agent.
// Action identifies the code path (e.g. "tracker.sample_accepted"), message
// is free text.
type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Error(action string, err error)
}

// jsonLogger writes one JSON object per line.
type jsonLogger struct {
	mu         *sync.Mutex
	out        io.Writer
	service    string
	hostname   string
	debug      bool
	baseFields LogFields
}

// logEntry is the wire shape of a log line. Known identifiers get their own
// keys so log queries can filter on them; everything else lands in fields.
type logEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Service   string   `json:"service"`
	Action    string   `json:"action"`
	Message   string   `json:"message"`
	Hostname  string   `json:"hostname"`
	TripID    string   `json:"trip_id,omitempty"`
	StopID    string   `json:"stop_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`

	Error *errorEntry `json:"error,omitempty"`

	Fields LogFields `json:"fields,omitempty"`
}

type errorEntry struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// NewLogger creates a structured JSON logger for the named service.
// DEBUG lines are suppressed unless LOG_DEBUG is set.
func NewLogger(serviceName string) Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &jsonLogger{
		mu:         &sync.Mutex{},
		out:        os.Stdout,
		service:    serviceName,
		hostname:   host,
		debug:      os.Getenv("LOG_DEBUG") != "",
		baseFields: make(LogFields),
	}
}

// WithFields returns a logger that carries the merged fields on every entry.
func (l *jsonLogger) WithFields(fields LogFields) Logger {
	merged := make(LogFields, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	clone := *l
	clone.baseFields = merged
	return &clone
}

func (l *jsonLogger) Info(action, message string) {
	l.log(LevelInfo, action, message, nil)
}

func (l *jsonLogger) Debug(action, message string) {
	if !l.debug {
		return
	}
	l.log(LevelDebug, action, message, nil)
}

func (l *jsonLogger) Error(action string, err error) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	l.log(LevelError, action, err.Error(), &errorEntry{
		Msg:   err.Error(),
		Stack: trimStack(string(buf[:n])),
	})
}

func (l *jsonLogger) log(level LogLevel, action, message string, errData *errorEntry) {
	entry := &logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Service:   l.service,
		Action:    action,
		Message:   message,
		Hostname:  l.hostname,
		Error:     errData,
		Fields:    make(LogFields),
	}

	for k, v := range l.baseFields {
		switch k {
		case "trip_id":
			if id, ok := v.(string); ok {
				entry.TripID = id
				continue
			}
		case "stop_id":
			if id, ok := v.(string); ok {
				entry.StopID = id
				continue
			}
		case "user_id":
			if id, ok := v.(string); ok {
				entry.UserID = id
				continue
			}
		}
		entry.Fields[k] = v
	}

	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(line))
}

// trimStack drops runtime internals and this package's own frames so the
// trace starts at the caller of Error.
func trimStack(stack string) string {
	lines := strings.Split(stack, "\n")
	var kept []string

	if len(lines) > 0 {
		kept = append(kept, lines[0])
	}

	for i := 1; i+1 < len(lines); i += 2 {
		funcName := lines[i]
		filePath := lines[i+1]

		if strings.HasPrefix(funcName, "runtime.") ||
			strings.HasPrefix(funcName, "testing.") ||
			strings.Contains(funcName, "logger.(*jsonLogger)") {
			continue
		}

		kept = append(kept, funcName, "    "+strings.TrimSpace(filePath))
	}

	return strings.Join(kept, "\n")
}
