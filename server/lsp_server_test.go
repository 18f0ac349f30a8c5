package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lexcodex/codeengine/framework"
)

func TestWorkspaceSymbolFromIndex(t *testing.T) {
	s := NewSymbolServer(seededCache(), 0, quietLogger())
	params, err := json.Marshal(protocol.WorkspaceSymbolParams{Query: "foo"})
	require.NoError(t, err)

	result, err := s.Handle(context.Background(), protocol.MethodWorkspaceSymbol, params)
	require.NoError(t, err)
	symbols, ok := result.([]protocol.SymbolInformation)
	require.True(t, ok)
	require.Len(t, symbols, 3)

	assert.Equal(t, "Foo", symbols[0].Name)
	assert.Equal(t, protocol.SymbolKindClass, symbols[0].Kind)
	assert.Equal(t, uri.File("/p/a.cs"), symbols[0].Location.URI)
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 2, Character: 4},
		End:   protocol.Position{Line: 2, Character: 7},
	}, symbols[0].Location.Range)
	assert.Equal(t, "a.cs", symbols[0].ContainerName)
}

func TestSymbolServerRejectsUnknownMethods(t *testing.T) {
	s := NewSymbolServer(seededCache(), 5, quietLogger())
	_, err := s.Handle(context.Background(), "textDocument/hover", nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)

	_, err = s.Handle(context.Background(), protocol.MethodWorkspaceSymbol, json.RawMessage(`{"query": 5}`))
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)
}

func TestSymbolServerInitialize(t *testing.T) {
	s := NewSymbolServer(seededCache(), 5, quietLogger())
	result, err := s.Handle(context.Background(), protocol.MethodInitialize, nil)
	require.NoError(t, err)
	init, ok := result.(*protocol.InitializeResult)
	require.True(t, ok)
	assert.Equal(t, true, init.Capabilities.WorkspaceSymbolProvider)
}

func TestSymbolKindMapping(t *testing.T) {
	assert.Equal(t, protocol.SymbolKindInterface, symbolKind("Interface"))
	assert.Equal(t, protocol.SymbolKindObject, symbolKind("delegate"))

	sym := SymbolFromReference(framework.CodeReference{Name: "X", File: "/x.go", Line: 0, Column: -1, Length: -2})
	assert.Equal(t, protocol.Position{}, sym.Location.Range.Start)
	assert.Equal(t, protocol.Position{}, sym.Location.Range.End)
}
