package framework

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventEngineStart     EventType = "engine_start"
	EventEngineStop      EventType = "engine_stop"
	EventHandlerFailed   EventType = "handler_failed"
	EventCrawlLineFailed EventType = "crawl_line_failed"
	EventEditorConnected EventType = "editor_connected"
	EventEditorLost      EventType = "editor_disconnected"
)

// Event captures structured telemetry data. Timestamp is filled in by sinks
// that persist events when the emitter leaves it zero.
type Event struct {
	Type      EventType              `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry receives engine lifecycle and failure signals. The engine emits
// from handler goroutines, so implementations must be safe for concurrent use.
// Tests usually swap in NopTelemetry or a LoggerTelemetry over io.Discard.
type Telemetry interface {
	Emit(event Event)
}

// NopTelemetry drops every event.
type NopTelemetry struct{}

// Emit does nothing.
func (NopTelemetry) Emit(Event) {}

// MultiplexTelemetry broadcasts events to multiple sinks. Nil sinks are
// skipped, so optional sinks can be listed unconditionally.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
// External tools can tail the stream while the engine runs, and
// ReadTelemetryFile reads it back for the telemetry command.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// ReadTelemetryFile decodes every record written by a JSONFileTelemetry.
func ReadTelemetryFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var events []Event
	dec := json.NewDecoder(f)
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, ev)
	}
}

// LoggerTelemetry emits events via the standard logger. A nil Logger falls
// back to log.Default, which puts every lifecycle event in the engine log
// without extra tooling.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	if len(event.Metadata) == 0 {
		logger.Printf("[%s] %s", event.Type, event.Message)
		return
	}
	logger.Printf("[%s] meta=%v msg=%s", event.Type, event.Metadata, event.Message)
}
