package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexcodex/codeengine/framework"
)

// Client queries a running engine's HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient targets addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Find runs a type search.
func (c *Client) Find(ctx context.Context, query string, limit int) ([]framework.CodeReference, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []framework.CodeReference
	err := c.getJSON(ctx, "/api/find?"+params.Encode(), &out)
	return out, err
}

// Files runs a file search.
func (c *Client) Files(ctx context.Context, query string) ([]framework.FileFindResult, error) {
	var out []framework.FileFindResult
	err := c.getJSON(ctx, "/api/files?"+url.Values{"q": {query}}.Encode(), &out)
	return out, err
}

// Stats returns index counts.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.getJSON(ctx, "/api/stats", &out)
	return out, err
}

// Command posts command text for dispatch.
func (c *Client) Command(ctx context.Context, text string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/command", strings.NewReader(text))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return statusError(resp)
	}
	return nil
}

// Events streams published event bodies to fn until ctx ends or the socket
// closes.
func (c *Client) Events(ctx context.Context, fn func(string)) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(string(data))
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
}
