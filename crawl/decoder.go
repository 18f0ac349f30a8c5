// Package crawl decodes the pipe-delimited update stream emitted by crawlers
// into index mutations.
package crawl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/codeengine/framework"
)

// ErrMalformedLine is wrapped by every decode failure.
var ErrMalformedLine = errors.New("malformed crawl line")

const (
	fieldSeparator  = "|"
	flagFileSearch  = "filesearch"
	flagTypeSearch  = "typesearch"
	maxLineBytes    = 1024 * 1024
	signatureFields = 7
	referenceFields = 5
)

// State is the implicit context carried from one line to the next.
type State struct {
	CurrentProject string
	CurrentFile    string
}

// FeedStats summarizes a decoded stream.
type FeedStats struct {
	Lines  int
	Failed int
}

// Decoder writes decoded records into a CrawlResult.
type Decoder struct {
	cache     framework.CrawlResult
	logger    *log.Logger
	telemetry framework.Telemetry
}

// NewDecoder builds a decoder writing into cache.
func NewDecoder(cache framework.CrawlResult, logger *log.Logger) *Decoder {
	if logger == nil {
		logger = log.Default()
	}
	return &Decoder{cache: cache, logger: logger, telemetry: framework.NopTelemetry{}}
}

// WithTelemetry reports failed lines to sink.
func (d *Decoder) WithTelemetry(sink framework.Telemetry) *Decoder {
	if sink != nil {
		d.telemetry = sink
	}
	return d
}

// Decode applies one line and returns the state for the next line. On error
// the input state is returned unchanged and the index is not touched.
func (d *Decoder) Decode(state State, line string) (State, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return state, nil
	}
	chunks := strings.Split(line, fieldSeparator)
	switch chunks[0] {
	case "project":
		if len(chunks) < 2 || chunks[1] == "" {
			return state, fmt.Errorf("%w: project needs a path: %q", ErrMalformedLine, line)
		}
		project := framework.NewProject(chunks[1])
		project.FileSearch = hasFlag(chunks[2:], flagFileSearch)
		d.cache.AddProject(project)
		state.CurrentProject = project.File
	case "file":
		if len(chunks) < 2 || chunks[1] == "" {
			return state, fmt.Errorf("%w: file needs a path: %q", ErrMalformedLine, line)
		}
		file := framework.NewProjectFile(chunks[1], state.CurrentProject)
		file.FileSearch = hasFlag(chunks[2:], flagFileSearch)
		d.cache.AddFile(file)
		state.CurrentFile = file.File
	case "signature":
		if len(chunks) < signatureFields {
			return state, fmt.Errorf("%w: signature needs %d fields, got %d: %q", ErrMalformedLine, signatureFields, len(chunks), line)
		}
		pos, err := parsePosition(chunks[4:7])
		if err != nil {
			return state, fmt.Errorf("%w: %v: %q", ErrMalformedLine, err, line)
		}
		d.cache.AddReference(framework.CodeReference{
			Type:       framework.ReferenceKind(chunks[1]),
			File:       state.CurrentFile,
			Name:       chunks[2],
			Signature:  chunks[3],
			Line:       pos[0],
			Column:     pos[1],
			Length:     pos[2],
			TypeSearch: hasFlag(chunks[signatureFields:], flagTypeSearch),
		})
	case "reference":
		if len(chunks) < referenceFields {
			return state, fmt.Errorf("%w: reference needs %d fields, got %d: %q", ErrMalformedLine, referenceFields, len(chunks), line)
		}
		pos, err := parsePosition(chunks[2:5])
		if err != nil {
			return state, fmt.Errorf("%w: %v: %q", ErrMalformedLine, err, line)
		}
		d.cache.AddSignature(framework.SignatureReference{
			File:   state.CurrentFile,
			Name:   chunks[1],
			Line:   pos[0],
			Column: pos[1],
			Length: pos[2],
		})
	case "error", "comment":
		d.logger.Printf("crawler %s", line)
	}
	return state, nil
}

// Feed decodes every line of r, carrying state across lines. Failed lines are
// logged and counted; only read errors and cancellation end the stream early.
func (d *Decoder) Feed(ctx context.Context, r io.Reader) (FeedStats, error) {
	var stats FeedStats
	var state State
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++
		next, err := d.Decode(state, line)
		if err != nil {
			stats.Failed++
			d.reportFailure(stats.Lines, err)
			continue
		}
		state = next
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read crawl stream: %w", err)
	}
	return stats, nil
}

func (d *Decoder) reportFailure(lineNo int, err error) {
	d.logger.Printf("crawl line %d skipped: %v", lineNo, err)
	d.telemetry.Emit(framework.Event{
		Type:      framework.EventCrawlLineFailed,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"line": lineNo},
	})
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func parsePosition(fields []string) ([3]int, error) {
	var pos [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return pos, fmt.Errorf("position field %d: %w", i+1, err)
		}
		pos[i] = n
	}
	return pos, nil
}

// Session serializes single lines arriving from several goroutines through
// one shared decoder state.
type Session struct {
	decoder *Decoder
	mu      sync.Mutex
	state   State
}

// NewSession starts with an empty state.
func NewSession(decoder *Decoder) *Session {
	return &Session{decoder: decoder}
}

// Decode applies line against the shared state.
func (s *Session) Decode(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.decoder.Decode(s.state, line)
	if err != nil {
		s.decoder.reportFailure(0, err)
		return err
	}
	s.state = next
	return nil
}

// State returns the current carried state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
