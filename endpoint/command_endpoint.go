package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/codeengine/framework"
)

const (
	startedEvent = "codeengine started"
	stoppedEvent = "codeengine stopped"
)

// Handler reacts to one dispatched message. Handlers must ignore messages
// they do not understand. editor may be disconnected.
type Handler func(msg MessageArgs, cache framework.TypeCache, editor *Editor)

// Config describes a CommandEndpoint.
type Config struct {
	EditorKey   string
	CommandAddr string
	EditorAddr  string
	Workers     int
	QueueSize   int
	// TempDir holds the instance file; os.TempDir() when empty.
	TempDir   string
	Logger    *log.Logger
	Telemetry framework.Telemetry
}

// CommandEndpoint accepts messages from TCP clients, the event port and the
// editor, echoes each one as an event and runs every registered handler on
// the worker pool.
type CommandEndpoint struct {
	key       string
	cache     framework.TypeCache
	events    *EventEndpoint
	server    *TCPServer
	editor    *Editor
	pool      *WorkerPool
	cfg       Config
	logger    *log.Logger
	telemetry framework.Telemetry

	handlersMu sync.RWMutex
	handlers   []Handler

	instanceMu   sync.Mutex
	instanceFile string
	stopOnce     sync.Once
}

// NewCommandEndpoint wires the endpoint to cache and events. Nothing listens
// until Start.
func NewCommandEndpoint(cfg Config, cache framework.TypeCache, events *EventEndpoint) *CommandEndpoint {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = framework.NopTelemetry{}
	}
	if events == nil {
		events = NewEventEndpoint("", logger)
	}
	c := &CommandEndpoint{
		key:       cfg.EditorKey,
		cache:     cache,
		events:    events,
		server:    NewTCPServer(cfg.CommandAddr, logger),
		editor:    NewEditor(logger, telemetry),
		pool:      NewWorkerPool(cfg.Workers, cfg.QueueSize, logger),
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetry,
	}
	logger.Printf("command endpoint using editor key %q", cfg.EditorKey)
	events.DispatchThrough(func(text string) {
		c.HandleMessage(MessageArgs{Message: text})
	})
	c.server.OnMessage(c.HandleMessage)
	c.editor.OnMessage(func(text string) {
		c.HandleMessage(MessageArgs{Message: text})
	})
	return c
}

// Token returns the editor key.
func (c *CommandEndpoint) Token() string { return c.key }

// Editor returns the editor connection.
func (c *CommandEndpoint) Editor() *Editor { return c.editor }

// Events returns the event endpoint.
func (c *CommandEndpoint) Events() *EventEndpoint { return c.events }

// Port returns the command port.
func (c *CommandEndpoint) Port() int { return c.server.Port() }

// Addr returns the command address.
func (c *CommandEndpoint) Addr() string { return c.server.Addr() }

// IsAlive reports whether the editor is connected.
func (c *CommandEndpoint) IsAlive() bool { return c.editor.IsConnected() }

// InstanceFile returns the path written by Start, or "" before it.
func (c *CommandEndpoint) InstanceFile() string {
	c.instanceMu.Lock()
	defer c.instanceMu.Unlock()
	return c.instanceFile
}

// Start opens the command port, connects the editor, writes the instance file
// and publishes the startup event. A failing editor connection is logged and
// leaves the endpoint running.
func (c *CommandEndpoint) Start(ctx context.Context) error {
	if err := c.server.Start(); err != nil {
		return err
	}
	c.logger.Printf("codeengine listening on port %d", c.server.Port())
	if err := c.editor.Connect(ctx, c.cfg.EditorAddr); err != nil {
		c.logger.Printf("editor unavailable: %v", err)
	}
	if err := c.writeInstanceFile(); err != nil {
		return err
	}
	c.events.Send(startedEvent)
	c.telemetry.Emit(framework.Event{Type: framework.EventEngineStart, Message: startedEvent, Timestamp: time.Now().UTC()})
	return nil
}

// Stop publishes the shutdown event, removes the instance file and closes
// every connection. Queued dispatches run before Stop returns.
func (c *CommandEndpoint) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.events.Send(stoppedEvent)
		c.telemetry.Emit(framework.Event{Type: framework.EventEngineStop, Message: stoppedEvent, Timestamp: time.Now().UTC()})
		if rmErr := c.removeInstanceFile(); rmErr != nil {
			err = rmErr
		}
		if stopErr := c.server.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
		_ = c.editor.Close()
		c.pool.Close()
	})
	return err
}

// RegisterHandler appends h. Handlers run in registration order.
func (c *CommandEndpoint) RegisterHandler(h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Handle parses text as a structured command, normalizes it and dispatches
// it. Malformed commands are logged and dropped.
func (c *CommandEndpoint) Handle(text string) error {
	msg, err := ParseCommandMessage(text)
	if err != nil {
		c.logger.Printf("dropping command: %v", err)
		return err
	}
	if msg.Empty() {
		return nil
	}
	c.HandleMessage(MessageArgs{Message: msg.String()})
	return nil
}

// HandleMessage publishes msg as an event, then queues one task that runs
// every handler in registration order.
func (c *CommandEndpoint) HandleMessage(msg MessageArgs) {
	c.logger.Printf("handling incoming message: %s", msg.Message)
	c.events.Send(msg.Message)

	c.handlersMu.RLock()
	handlers := append([]Handler(nil), c.handlers...)
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	err := c.pool.Submit(func() {
		for i, h := range handlers {
			c.runHandler(i, h, msg)
		}
	})
	if err != nil {
		c.logger.Printf("dispatch of %q skipped: %v", msg.Message, err)
	}
}

func (c *CommandEndpoint) runHandler(index int, h Handler, msg MessageArgs) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("handler %d failed on %q: %v", index, msg.Message, r)
			c.telemetry.Emit(framework.Event{
				Type:      framework.EventHandlerFailed,
				Message:   fmt.Sprint(r),
				Timestamp: time.Now().UTC(),
				Metadata:  map[string]interface{}{"handler": index, "message": msg.Message},
			})
		}
	}()
	h(msg, c.cache, c.editor)
}

// Send broadcasts message to every TCP client.
func (c *CommandEndpoint) Send(message string) {
	c.server.Send(message)
}

// SendTo delivers message to one TCP client.
func (c *CommandEndpoint) SendTo(message string, clientID uuid.UUID) bool {
	return c.server.SendTo(message, clientID)
}

// PublishEvent sends body on the event channel without dispatching it.
func (c *CommandEndpoint) PublishEvent(body string) {
	c.events.Send(body)
}

// Reply answers msg: to its TCP client when it has one, else to the editor
// when connected, else to every TCP client.
func (c *CommandEndpoint) Reply(msg MessageArgs, text string) {
	if msg.FromClient() && c.server.SendTo(text, msg.ClientID) {
		return
	}
	if c.editor.IsConnected() {
		err := c.editor.Send(context.Background(), text)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrEditorNotConnected) {
			c.logger.Printf("editor reply failed: %v", err)
		}
	}
	c.server.Send(text)
}

// InstanceFileName is <pid>.CodeEngine.<user>.pid with path separators in the
// user name replaced by '-'.
func InstanceFileName(pid int, username string) string {
	username = strings.ReplaceAll(username, string(filepath.Separator), "-")
	username = strings.ReplaceAll(username, "/", "-")
	return fmt.Sprintf("%d.CodeEngine.%s.pid", pid, username)
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func (c *CommandEndpoint) writeInstanceFile() error {
	dir := c.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, InstanceFileName(os.Getpid(), currentUsername()))
	body := c.key + "\n" + strconv.Itoa(c.server.Port()) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write instance file: %w", err)
	}
	c.instanceMu.Lock()
	c.instanceFile = path
	c.instanceMu.Unlock()
	return nil
}

func (c *CommandEndpoint) removeInstanceFile() error {
	c.instanceMu.Lock()
	path := c.instanceFile
	c.instanceMu.Unlock()
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove instance file: %w", err)
	}
	return nil
}

// InstanceInfo is the content of an instance file.
type InstanceInfo struct {
	Path      string
	EditorKey string
	Port      int
}

// ReadInstanceFile parses an instance file written by Start.
func ReadInstanceFile(path string) (InstanceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return InstanceInfo{}, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		return InstanceInfo{}, fmt.Errorf("instance file %s: expected 2 lines, got %d", path, len(lines))
	}
	port, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return InstanceInfo{}, fmt.Errorf("instance file %s: %w", path, err)
	}
	return InstanceInfo{Path: path, EditorKey: strings.TrimSpace(lines[0]), Port: port}, nil
}

// FindInstances lists instance files in dir (os.TempDir() when empty) whose
// editor key matches key; an empty key matches every instance.
func FindInstances(dir, key string) ([]InstanceInfo, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.CodeEngine.*.pid"))
	if err != nil {
		return nil, err
	}
	var out []InstanceInfo
	for _, p := range paths {
		info, err := ReadInstanceFile(p)
		if err != nil {
			continue
		}
		if key == "" || info.EditorKey == key {
			out = append(out, info)
		}
	}
	return out, nil
}
