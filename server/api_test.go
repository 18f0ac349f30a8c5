package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeengine/caching"
	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/framework"
)

type stubCommands struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (s *stubCommands) Handle(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, text)
	return s.err
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seededCache() *caching.TypeCache {
	cache := caching.NewTypeCache()
	cache.AddProject(framework.Project{File: "/p/a.proj", FileSearch: true})
	cache.AddFile(framework.ProjectFile{File: "/p/a.cs", Project: "/p/a.proj", FileSearch: true})
	cache.AddFile(framework.ProjectFile{File: "/p/sub/b.cs", Project: "/p/a.proj", FileSearch: true})
	cache.AddReference(framework.CodeReference{Type: framework.KindClass, File: "/p/a.cs", Name: "Foo", Signature: "class Foo", Line: 3, Column: 4, Length: 3, TypeSearch: true})
	cache.AddReference(framework.CodeReference{Type: framework.KindMethod, File: "/p/a.cs", Name: "FooBar", Signature: "void FooBar()", Line: 9, Column: 8, Length: 6, TypeSearch: true})
	cache.AddReference(framework.CodeReference{Type: framework.KindInterface, File: "/p/sub/b.cs", Name: "IFoo", Signature: "interface IFoo", Line: 1, Length: 4, TypeSearch: true})
	return cache
}

func newAPI(t *testing.T, cache framework.TypeCache, commands CommandSink, events EventSource) *APIServer {
	t.Helper()
	api, err := NewAPIServer(cache, commands, events, APIOptions{DefaultLimit: 10, CacheSize: 8, Logger: quietLogger()})
	require.NoError(t, err)
	return api
}

func TestAPIFindMatchesIndexOrder(t *testing.T) {
	cache := seededCache()
	api := newAPI(t, cache, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/find?q=foo", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got []framework.CodeReference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, cache.FindLimit("foo", 10), got)
}

func TestAPIFindCacheFollowsIndexVersion(t *testing.T) {
	cache := seededCache()
	api := newAPI(t, cache, nil, nil)

	first := api.find("foo", 10)
	require.Len(t, first, 3)
	assert.Equal(t, 1, api.results.Len())
	assert.Equal(t, first, api.find("  foo ", 10))
	assert.Equal(t, 1, api.results.Len())

	cache.Invalidate("/p/sub/b.cs")
	second := api.find("foo", 10)
	assert.Len(t, second, 2)
	assert.Equal(t, 2, api.results.Len())
}

func TestAPIFindZeroLimitUsesDefault(t *testing.T) {
	api := newAPI(t, seededCache(), nil, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/find?q=foo&limit=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out []framework.CodeReference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out)
}

func TestAPIFindRejectsBadLimit(t *testing.T) {
	api := newAPI(t, seededCache(), nil, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/find?q=foo&limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/find", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIFileViews(t *testing.T) {
	api := newAPI(t, seededCache(), nil, nil)
	get := func(path string) []framework.FileFindResult {
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		var out []framework.FileFindResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	files := get("/api/files?q=b.cs")
	require.NotEmpty(t, files)
	assert.Equal(t, "/p/sub/b.cs", files[0].File)

	dir := get("/api/directory?path=/p")
	require.Len(t, dir, 3)
	assert.Equal(t, framework.FileFindDirectory, dir[0].Type)

	project := get("/api/project?project=/p/a.proj")
	require.Len(t, project, 2)
	assert.Equal(t, "sub", project[0].DisplayName)

	nested := get("/api/project?project=/p/a.proj&path=/p/sub")
	require.Len(t, nested, 1)
	assert.Equal(t, "b.cs", nested[0].DisplayName)

	assert.Empty(t, get("/api/project?project=/missing.proj"))

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/directory", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPICommand(t *testing.T) {
	commands := &stubCommands{}
	api := newAPI(t, seededCache(), commands, nil)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader("invalidate /p/a.cs\n")))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"invalidate /p/a.cs"}, commands.seen)

	commands.err = errors.New("malformed")
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`find-types "x`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled := newAPI(t, seededCache(), nil, nil)
	rec = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader("ping")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientAgainstAPI(t *testing.T) {
	cache := seededCache()
	commands := &stubCommands{}
	srv := httptest.NewServer(newAPI(t, cache, commands, nil).Handler())
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	refs, err := client.Find(ctx, "foo", 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Foo", refs[0].Name)

	files, err := client.Files(ctx, "a.cs")
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatsResponse{Projects: 1, Files: 2, References: 3, Version: cache.Version()}, stats)

	require.NoError(t, client.Command(ctx, "ping"))
	assert.Equal(t, []string{"ping"}, commands.seen)

	_, err = NewClient(strings.TrimPrefix(srv.URL, "http://")).Find(ctx, "foo", -1)
	assert.NoError(t, err)
}

func TestAPIEventsWebsocket(t *testing.T) {
	events := endpoint.NewEventEndpoint("", quietLogger())
	srv := httptest.NewServer(newAPI(t, seededCache(), nil, events).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; publish until seen.
	deadline := time.Now().Add(5 * time.Second)
	received := make(chan string, 1)
	go func() {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	}()
	for {
		events.Send("invalidated /p/a.cs")
		select {
		case body := <-received:
			assert.Equal(t, "invalidated /p/a.cs", body)
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no event delivered over websocket")
		}
	}
}

func TestClientEventsStream(t *testing.T) {
	events := endpoint.NewEventEndpoint("", quietLogger())
	srv := httptest.NewServer(newAPI(t, seededCache(), nil, events).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(srv.URL).Events(ctx, func(body string) { received <- body })
	}()

	deadline := time.After(5 * time.Second)
	for seen := false; !seen; {
		events.Send("crawled /p")
		select {
		case body := <-received:
			assert.Equal(t, "crawled /p", body)
			seen = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("client never received an event")
		}
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Events did not return after cancel")
	}
}
