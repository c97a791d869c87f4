package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/servo/compiler"
	"github.com/chazu/servo/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "servo-lsp"

// requestTimeout bounds how long a handler waits for the VM worker.
const requestTimeout = 5 * time.Second

var log = commonlog.GetLogger("servo.server")

// keywords offered by completion.
var keywords = []string{"false", "null", "true"}

// LspServer bridges LSP editor features to a Servo VM via VMWorker.
// Every open document is compiled on change; syntax errors and runtime
// faults from a dry run are published as diagnostics.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server wrapping the given VM. Tracing is turned
// off because stdout carries the protocol.
func NewLSP(v *bytecode.VM) *LspServer {
	if v.Trace != nil {
		log.Notice("vm trace disabled for the language server")
		v.Trace = nil
	}
	worker := NewVMWorker(v)
	s := &LspServer{
		worker:  worker,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("Servo LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// document returns the stored text for uri.
func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	result, err := Call(reqCtx, s.worker, func(v *bytecode.VM) *protocol.Hover {
		return hover(v, text)
	})
	if err != nil {
		log.Warningf("hover for %s: %v", params.TextDocument.URI, err)
		return nil, nil
	}
	return result, nil
}

// complete returns the keywords starting with prefix.
func complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	for _, kw := range keywords {
		if strings.HasPrefix(kw, lowerPrefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "literal"
			insert := kw
			items = append(items, protocol.CompletionItem{
				Label:      kw,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &insert,
			})
		}
	}
	return items
}

// --- VM-backed logic (called on worker goroutine) ---

// evaluation is the outcome of compiling and dry-running a document.
type evaluation struct {
	chunk  *bytecode.Chunk
	result bytecode.InterpretResult
	err    error
	value  bytecode.Value
	hasTop bool
}

// evaluate compiles text into a fresh chunk and runs it on v.
func evaluate(v *bytecode.VM, text string) evaluation {
	chunk := bytecode.NewChunk()
	if err := compiler.Compile(text, chunk); err != nil {
		return evaluation{chunk: chunk, result: bytecode.InterpretCompileError, err: err}
	}
	result, err := v.Run(chunk)
	ev := evaluation{chunk: chunk, result: result, err: err}
	if result == bytecode.InterpretOK {
		ev.value, ev.hasTop = v.Top()
	}
	return ev
}

// diagnose returns the diagnostics for text: one per syntax error, or one
// covering the faulting line for a runtime error.
func diagnose(v *bytecode.VM, text string) []protocol.Diagnostic {
	ev := evaluate(v, text)
	defer ev.chunk.Free()

	diagnostics := []protocol.Diagnostic{}
	switch ev.result {
	case bytecode.InterpretCompileError:
		var list compiler.ErrorList
		if errors.As(ev.err, &list) {
			for _, e := range list {
				diagnostics = append(diagnostics, newDiagnostic(pointRange(text, e.Line, e.Column), e.Error()))
			}
		} else {
			diagnostics = append(diagnostics, newDiagnostic(lineRange(text, 1), ev.err.Error()))
		}

	case bytecode.InterpretRuntimeError:
		line := 1
		var rerr *bytecode.RuntimeError
		if errors.As(ev.err, &rerr) && rerr.Line > 0 {
			line = rerr.Line
		}
		diagnostics = append(diagnostics, newDiagnostic(lineRange(text, line), "runtime error: "+ev.err.Error()))
	}
	return diagnostics
}

// hover renders the document's value and its bytecode listing.
func hover(v *bytecode.VM, text string) *protocol.Hover {
	ev := evaluate(v, text)
	defer ev.chunk.Free()

	var b strings.Builder
	switch ev.result {
	case bytecode.InterpretCompileError:
		return nil
	case bytecode.InterpretRuntimeError:
		fmt.Fprintf(&b, "**Runtime error:** %s\n\n", ev.err)
	default:
		if ev.hasTop {
			fmt.Fprintf(&b, "**Result:** `%s` (%s)\n\n", ev.value, ev.value.Type())
		}
	}

	b.WriteString("```\n")
	b.WriteString(ev.chunk.Disassemble("document"))
	b.WriteString("```\n")

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	reqCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	diagnostics, err := Call(reqCtx, s.worker, func(v *bytecode.VM) []protocol.Diagnostic {
		return diagnose(v, text)
	})
	if err != nil {
		log.Errorf("diagnostics for %s: %v", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func newDiagnostic(r protocol.Range, message string) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := lspName
	return protocol.Diagnostic{
		Range:    r,
		Severity: &severity,
		Source:   &source,
		Message:  message,
	}
}

// lineRange spans the whole of 1-based line in text.
func lineRange(text string, line int) protocol.Range {
	lines := strings.Split(text, "\n")
	idx := line - 1
	if idx < 0 {
		idx = 0
	}
	width := 0
	if idx < len(lines) {
		width = len(strings.TrimRight(lines[idx], "\r"))
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(idx), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(idx), Character: protocol.UInteger(width)},
	}
}

// pointRange covers the character at a 1-based line and column.
func pointRange(text string, line, column int) protocol.Range {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}
	start := protocol.Position{Line: protocol.UInteger(line - 1), Character: protocol.UInteger(column - 1)}
	end := start
	lines := strings.Split(text, "\n")
	if line-1 < len(lines) && column-1 < len(lines[line-1]) {
		end.Character++
	}
	return protocol.Range{Start: start, End: end}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

func boolPtr(b bool) *bool {
	return &b
}
