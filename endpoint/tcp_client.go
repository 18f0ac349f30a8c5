package endpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client speaks the NUL-framed protocol of the command and event ports.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// Dial connects to a command or event port.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Send writes one framed message.
func (c *Client) Send(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := io.WriteString(c.conn, message+string(messageTerminator))
	return err
}

// Receive blocks for the next framed message. A zero timeout waits forever.
func (c *Client) Receive(timeout time.Duration) (string, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	raw, err := c.reader.ReadString(messageTerminator)
	if err != nil {
		if text := trimFrame(raw); text != "" {
			return text, nil
		}
		return "", err
	}
	return trimFrame(raw), nil
}

// Close drops the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
