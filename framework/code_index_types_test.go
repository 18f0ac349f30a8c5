package framework

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeReferenceIdentityIgnoresTypeSearch(t *testing.T) {
	a := CodeReference{Type: KindClass, File: "/a.cs", Name: "Foo", Signature: "class Foo", Line: 1, Length: 3}
	b := a
	b.TypeSearch = true
	assert.True(t, a.Is(b))

	b.Column = 4
	assert.False(t, a.Is(b))
}

func TestReferenceKindNormalize(t *testing.T) {
	assert.Equal(t, KindInterface, ReferenceKind("  Interface ").Normalize())
}

func TestUpdateReplacesMutableAttributes(t *testing.T) {
	p := NewProject("/p/a.proj")
	p.Update(`{"x":1}`, true)
	assert.Equal(t, Project{File: "/p/a.proj", JSON: `{"x":1}`, FileSearch: true}, p)

	f := NewProjectFile("/p/a.cs", "/p/a.proj")
	f.Update("", true)
	assert.Equal(t, ProjectFile{File: "/p/a.cs", FileSearch: true}, f)
}

func TestFileFindResultJSONShape(t *testing.T) {
	data, err := json.Marshal(FileFindResult{Type: FileFindDirectory, File: "/r/a", DisplayName: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"directory","file":"/r/a","displayName":"a"}`, string(data))
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"", "anything", true},
		{"*", "crawled /p/a.cs lines=3 failed=0", true},
		{"crawled *", "crawled /p/a.cs lines=3 failed=0", true},
		{"crawled *", "invalidated /p/a.cs", false},
		{"*a.cs*", "invalidated /p/a.cs", true},
		{"p?ng", "ping", true},
		{"p?ng", "pong", true},
		{"p?ng", "pinng", false},
		{"codeengine started", "codeengine started", true},
		{"(x)*", "(x) literal", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchPattern(tc.pattern, tc.value), "%q vs %q", tc.pattern, tc.value)
	}
}

func TestJSONFileTelemetryWritesOneRecordPerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewJSONFileTelemetry(path)
	require.NoError(t, err)
	MultiplexTelemetry{Sinks: []Telemetry{sink, nil, NopTelemetry{}}}.Emit(Event{Type: EventEngineStart, Message: "codeengine started"})
	sink.Emit(Event{Type: EventEngineStop})
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	events, err := ReadTelemetryFile(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventEngineStart, events[0].Type)
	assert.Equal(t, "codeengine started", events[0].Message)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, EventEngineStop, events[1].Type)
}
