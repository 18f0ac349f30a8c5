package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/lexcodex/codeengine/framework"
)

const (
	editorMethodCommand = "command"
	editorMethodMessage = "message"
)

// RequestHandler answers jsonrpc2 requests arriving from the editor.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

type editorCommand struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
}

// Editor is the jsonrpc2 connection to the editor plugin, framed with
// Content-Length headers.
type Editor struct {
	logger    *log.Logger
	telemetry framework.Telemetry

	mu             sync.Mutex
	conn           *jsonrpc2.Conn
	onMessage      func(string)
	requestHandler RequestHandler
}

// NewEditor returns a disconnected editor.
func NewEditor(logger *log.Logger, telemetry framework.Telemetry) *Editor {
	if logger == nil {
		logger = log.Default()
	}
	if telemetry == nil {
		telemetry = framework.NopTelemetry{}
	}
	return &Editor{logger: logger, telemetry: telemetry}
}

// OnMessage sets the callback for normalized command text from the editor.
func (e *Editor) OnMessage(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = fn
}

// SetRequestHandler installs the handler for non-notification requests.
func (e *Editor) SetRequestHandler(h RequestHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestHandler = h
}

// Connect dials the editor at addr. An empty addr leaves the editor
// disconnected.
func (e *Editor) Connect(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect editor %s: %w", addr, err)
	}
	e.Attach(ctx, conn)
	return nil
}

// Attach runs the jsonrpc2 protocol over an established stream.
func (e *Editor) Attach(ctx context.Context, rwc io.ReadWriteCloser) {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(e.handle))

	e.mu.Lock()
	previous := e.conn
	e.conn = conn
	e.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	e.logger.Printf("editor connected")
	e.telemetry.Emit(framework.Event{Type: framework.EventEditorConnected, Timestamp: time.Now().UTC()})

	go func() {
		<-conn.DisconnectNotify()
		e.mu.Lock()
		current := e.conn == conn
		if current {
			e.conn = nil
		}
		e.mu.Unlock()
		if current {
			e.logger.Printf("editor disconnected")
			e.telemetry.Emit(framework.Event{Type: framework.EventEditorLost, Timestamp: time.Now().UTC()})
		}
	}()
}

func (e *Editor) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if !req.Notif {
		e.mu.Lock()
		h := e.requestHandler
		e.mu.Unlock()
		if h == nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled: " + req.Method}
		}
		var params json.RawMessage
		if req.Params != nil {
			params = *req.Params
		}
		return h(ctx, req.Method, params)
	}

	var msg CommandMessage
	switch req.Method {
	case editorMethodCommand:
		var cmd editorCommand
		if err := unmarshalParams(req, &cmd); err != nil {
			e.logger.Printf("editor command dropped: %v", err)
			return nil, nil
		}
		msg = CommandMessage{Command: cmd.Command, Arguments: cmd.Arguments}
	case editorMethodMessage:
		var text string
		if err := unmarshalParams(req, &text); err != nil {
			e.logger.Printf("editor message dropped: %v", err)
			return nil, nil
		}
		parsed, err := ParseCommandMessage(text)
		if err != nil {
			e.logger.Printf("editor message dropped: %v", err)
			return nil, nil
		}
		msg = parsed
	default:
		return nil, nil
	}
	if msg.Empty() {
		return nil, nil
	}

	e.mu.Lock()
	fn := e.onMessage
	e.mu.Unlock()
	if fn != nil {
		fn(msg.String())
	}
	return nil, nil
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return fmt.Errorf("%w: %s without params", ErrMalformedCommand, req.Method)
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return nil
}

// IsConnected reports whether an editor connection is live. Safe on nil.
func (e *Editor) IsConnected() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Send notifies the editor with a message.
func (e *Editor) Send(ctx context.Context, message string) error {
	if e == nil {
		return ErrEditorNotConnected
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrEditorNotConnected
	}
	return conn.Notify(ctx, editorMethodMessage, message)
}

// Close drops the editor connection.
func (e *Editor) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
