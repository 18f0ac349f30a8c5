package endpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// messageTerminator frames every message on the command and event ports.
	messageTerminator = '\x00'
	// DefaultWriteTimeout bounds one write to a client that stopped reading.
	DefaultWriteTimeout = 5 * time.Second
)

type tcpClient struct {
	id      uuid.UUID
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *tcpClient) write(message string, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, message+string(messageTerminator))
	return err
}

// TCPServer accepts NUL-framed text messages from any number of clients.
type TCPServer struct {
	addr         string
	logger       *log.Logger
	writeTimeout time.Duration

	mu        sync.Mutex
	listener  net.Listener
	clients   map[uuid.UUID]*tcpClient
	onMessage func(MessageArgs)
	stopped   bool

	wg sync.WaitGroup
}

// NewTCPServer prepares a server for addr. An empty addr or port 0 picks a
// free loopback port on Start.
func NewTCPServer(addr string, logger *log.Logger) *TCPServer {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TCPServer{
		addr:         addr,
		logger:       logger,
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[uuid.UUID]*tcpClient),
	}
}

// SetWriteTimeout changes how long a send may block on one client before
// that client is disconnected. Values <= 0 restore DefaultWriteTimeout.
func (s *TCPServer) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeTimeout = d
}

func (s *TCPServer) currentWriteTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTimeout
}

// OnMessage sets the callback for every received message.
func (s *TCPServer) OnMessage(fn func(MessageArgs)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Start begins listening. Starting a running server is a no-op.
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.stopped = false
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *TCPServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Addr returns the bound address, or the configured one before Start.
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected clients.
func (s *TCPServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("tcp accept on %s: %v", ln.Addr(), err)
			}
			return
		}
		client := &tcpClient{id: uuid.New(), conn: conn}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.clients[client.id] = client
		s.mu.Unlock()
		s.wg.Add(1)
		go s.readLoop(client)
	}
}

func (s *TCPServer) readLoop(client *tcpClient) {
	defer s.wg.Done()
	defer s.drop(client)
	reader := bufio.NewReader(client.conn)
	for {
		raw, err := reader.ReadString(messageTerminator)
		if text := trimFrame(raw); text != "" {
			s.mu.Lock()
			fn := s.onMessage
			s.mu.Unlock()
			if fn != nil {
				fn(MessageArgs{ClientID: client.id, Message: text})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("tcp client %s: %v", client.id, err)
			}
			return
		}
	}
}

func trimFrame(raw string) string {
	raw = strings.TrimSuffix(raw, string(messageTerminator))
	return strings.TrimRight(raw, "\r\n")
}

func (s *TCPServer) drop(client *tcpClient) {
	s.mu.Lock()
	_, known := s.clients[client.id]
	delete(s.clients, client.id)
	s.mu.Unlock()
	_ = client.conn.Close()
	if known {
		s.logger.Printf("tcp client %s disconnected", client.id)
	}
}

func (s *TCPServer) snapshotClients() []*tcpClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tcpClient, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Send broadcasts message to every connected client. Clients that fail the
// write or do not drain it within the write timeout are disconnected.
func (s *TCPServer) Send(message string) {
	timeout := s.currentWriteTimeout()
	for _, c := range s.snapshotClients() {
		if err := c.write(message, timeout); err != nil {
			s.logger.Printf("tcp send to %s: %v", c.id, err)
			s.drop(c)
		}
	}
}

// SendTo delivers message to one client and reports whether it was known.
func (s *TCPServer) SendTo(message string, clientID uuid.UUID) bool {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	timeout := s.writeTimeout
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.write(message, timeout); err != nil {
		s.logger.Printf("tcp send to %s: %v", c.id, err)
		s.drop(c)
		return false
	}
	return true
}

// Stop closes the listener and every client connection and waits for the
// connection goroutines to finish.
func (s *TCPServer) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.stopped = true
	clients := make([]*tcpClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	for _, c := range clients {
		_ = c.conn.Close()
	}
	s.wg.Wait()
	return err
}
