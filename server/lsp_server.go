package server

import (
	"context"
	"encoding/json"
	"log"
	"path/filepath"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lexcodex/codeengine/framework"
)

const defaultSymbolLimit = 200

// SymbolServer answers the LSP requests an editor sends over the engine's
// jsonrpc2 connection, backed by the type index.
type SymbolServer struct {
	cache  framework.TypeCache
	limit  int
	logger *log.Logger
}

// NewSymbolServer builds a server over cache. limit caps workspace/symbol
// results; non-positive selects 200.
func NewSymbolServer(cache framework.TypeCache, limit int, logger *log.Logger) *SymbolServer {
	if logger == nil {
		logger = log.Default()
	}
	if limit <= 0 {
		limit = defaultSymbolLimit
	}
	return &SymbolServer{cache: cache, limit: limit, logger: logger}
}

// Handle dispatches one request by method. Its signature matches
// endpoint.RequestHandler.
func (s *SymbolServer) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case protocol.MethodInitialize:
		return s.Initialize(), nil
	case protocol.MethodWorkspaceSymbol:
		var p protocol.WorkspaceSymbolParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
			}
		}
		return s.WorkspaceSymbol(ctx, p)
	case protocol.MethodShutdown:
		return nil, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled: " + method}
	}
}

// Initialize advertises workspace symbol support.
func (s *SymbolServer) Initialize() *protocol.InitializeResult {
	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			WorkspaceSymbolProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{Name: "codeengine"},
	}
}

// WorkspaceSymbol runs a type search for the query.
func (s *SymbolServer) WorkspaceSymbol(ctx context.Context, params protocol.WorkspaceSymbolParams) ([]protocol.SymbolInformation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	refs := s.cache.FindLimit(params.Query, s.limit)
	out := make([]protocol.SymbolInformation, 0, len(refs))
	for _, r := range refs {
		out = append(out, SymbolFromReference(r))
	}
	s.logger.Printf("workspace/symbol %q: %d results", params.Query, len(out))
	return out, nil
}

// SymbolFromReference converts a 1-based crawler position into an LSP symbol.
func SymbolFromReference(r framework.CodeReference) protocol.SymbolInformation {
	line := r.Line - 1
	if line < 0 {
		line = 0
	}
	col := r.Column
	if col < 0 {
		col = 0
	}
	length := r.Length
	if length < 0 {
		length = 0
	}
	start := protocol.Position{Line: uint32(line), Character: uint32(col)}
	end := protocol.Position{Line: uint32(line), Character: uint32(col + length)}
	return protocol.SymbolInformation{
		Name: r.Name,
		Kind: symbolKind(r.Type),
		Location: protocol.Location{
			URI:   uri.File(r.File),
			Range: protocol.Range{Start: start, End: end},
		},
		ContainerName: filepath.Base(r.File),
	}
}

func symbolKind(kind framework.ReferenceKind) protocol.SymbolKind {
	switch kind.Normalize() {
	case framework.KindClass:
		return protocol.SymbolKindClass
	case framework.KindInterface:
		return protocol.SymbolKindInterface
	case framework.KindStruct:
		return protocol.SymbolKindStruct
	case framework.KindEnum:
		return protocol.SymbolKindEnum
	case framework.KindMethod:
		return protocol.SymbolKindMethod
	case framework.KindFunction:
		return protocol.SymbolKindFunction
	case framework.KindField:
		return protocol.SymbolKindField
	case framework.KindProperty:
		return protocol.SymbolKindProperty
	case framework.KindVariable:
		return protocol.SymbolKindVariable
	case framework.KindConstant:
		return protocol.SymbolKindConstant
	case framework.KindNamespace:
		return protocol.SymbolKindNamespace
	default:
		return protocol.SymbolKindObject
	}
}
