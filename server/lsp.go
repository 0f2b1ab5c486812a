package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/parser"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

const lspName = "hackwasm-lsp"

var log = commonlog.GetLogger("hackwasm.lsp")

// LspServer serves editor features for .vm files. Documents are parsed
// and compiled on every change; all analysis runs on a Worker.
type LspServer struct {
	worker *Worker

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server checking documents with opts.
func NewLSP(opts compiler.Options) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace(opts)),
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
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
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
	log.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{" "},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

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
	s.update(ctx, string(params.TextDocument.URI), params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, string(params.TextDocument.URI), whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.worker.Do(func(ws *Workspace) interface{} {
		ws.Close(string(uri))
		return nil
	})

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update reanalyzes a document and republishes diagnostics for every
// open document, since declarations in one file resolve calls in others.
func (s *LspServer) update(ctx *glsp.Context, uri, text string) {
	res, err := s.worker.Do(func(ws *Workspace) interface{} {
		ws.Open(uri, text)
		all := make(map[string][]protocol.Diagnostic)
		for _, u := range ws.URIs() {
			all[u] = diagnostics(ws, u)
		}
		return all
	})
	if err != nil {
		log.Errorf("analyzing %s: %s", uri, err)
		return
	}
	for u, diags := range res.(map[string][]protocol.Diagnostic) {
		go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         protocol.DocumentUri(u),
			Diagnostics: diags,
		})
	}
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	uri, pos := string(params.TextDocument.URI), params.Position
	result, err := s.worker.Do(func(ws *Workspace) interface{} {
		return complete(ws, uri, pos)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri, pos := string(params.TextDocument.URI), params.Position
	result, err := s.worker.Do(func(ws *Workspace) interface{} {
		return hover(ws, uri, pos)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri, pos := string(params.TextDocument.URI), params.Position
	result, err := s.worker.Do(func(ws *Workspace) interface{} {
		return definition(ws, uri, pos)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri, pos := string(params.TextDocument.URI), params.Position
	result, err := s.worker.Do(func(ws *Workspace) interface{} {
		return references(ws, uri, pos)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.([]protocol.Location), nil
}

// --- Workspace-backed logic (called on worker goroutine) ---

func complete(ws *Workspace, uri string, pos protocol.Position) []protocol.CompletionItem {
	d, ok := ws.Document(uri)
	if !ok {
		return nil
	}
	c, ok := cursorAt(d.Text, pos)
	if !ok {
		return nil
	}

	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(label, c.prefix) {
			return
		}
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	switch {
	case c.index == 0:
		for _, kw := range parser.Keywords() {
			add(kw, protocol.CompletionItemKindKeyword, "instruction")
		}
	case c.index == 1 && (c.op() == "push" || c.op() == "pop"):
		for _, seg := range vmcode.AllSegments() {
			if c.op() == "pop" && !seg.Writable() {
				continue
			}
			add(seg.String(), protocol.CompletionItemKindEnumMember, "segment")
		}
	case c.index == 1 && c.op() == "call":
		for _, name := range ws.FunctionNames() {
			add(name, protocol.CompletionItemKindFunction, "function")
		}
	case c.index == 1 && (c.op() == "goto" || c.op() == "if-goto"):
		if f := d.FuncAt(c.line); f != nil {
			labels := make([]string, 0, len(f.Labels))
			for l := range f.Labels {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			for _, l := range labels {
				add(l, protocol.CompletionItemKindReference, fmt.Sprintf("label in %s", f.Name))
			}
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(ws *Workspace, uri string, pos protocol.Position) *protocol.Hover {
	d, ok := ws.Document(uri)
	if !ok {
		return nil
	}
	c, ok := cursorAt(d.Text, pos)
	if !ok || c.index >= len(c.fields) {
		return nil
	}
	word := c.fields[c.index]

	var text string
	switch c.index {
	case 0:
		text = instructionDoc(word)
	case 1:
		switch c.op() {
		case "push", "pop":
			if seg, ok := vmcode.LookupSegment(word); ok {
				text = segmentDoc(seg, ws.Options())
			}
		case "call", "function":
			text = functionDoc(ws, word)
		case "label", "goto", "if-goto":
			if f := d.FuncAt(c.line); f != nil {
				if line, ok := f.Labels[word]; ok {
					text = fmt.Sprintf("**label %s** in `%s`, line %d", word, f.Name, line)
				}
			}
		}
	case 2:
		switch c.op() {
		case "push", "pop":
			text = slotDoc(d, c, ws.Options())
		case "function":
			text = fmt.Sprintf("%s local variables, zeroed on entry", word)
		case "call":
			text = fmt.Sprintf("%s arguments taken from the stack", word)
		}
	}
	if text == "" {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}
}

func definition(ws *Workspace, uri string, pos protocol.Position) []protocol.Location {
	d, ok := ws.Document(uri)
	if !ok {
		return nil
	}
	c, ok := cursorAt(d.Text, pos)
	if !ok || c.index != 1 || len(c.fields) < 2 {
		return nil
	}
	name := c.fields[1]

	switch c.op() {
	case "call", "function":
		decl, f := ws.Declaration(name)
		if f == nil {
			return nil
		}
		return []protocol.Location{lineLocation(decl, f.Line)}
	case "goto", "if-goto", "label":
		f := d.FuncAt(c.line)
		if f == nil {
			return nil
		}
		if line, ok := f.Labels[name]; ok {
			return []protocol.Location{lineLocation(d, line)}
		}
	}
	return nil
}

func references(ws *Workspace, uri string, pos protocol.Position) []protocol.Location {
	d, ok := ws.Document(uri)
	if !ok {
		return nil
	}
	c, ok := cursorAt(d.Text, pos)
	if !ok || c.index != 1 || len(c.fields) < 2 {
		return nil
	}
	name := c.fields[1]

	var locations []protocol.Location
	switch c.op() {
	case "call", "function":
		sites := ws.CallSites(name)
		for _, u := range ws.URIs() {
			doc, _ := ws.Document(u)
			for _, site := range sites[u] {
				locations = append(locations, lineLocation(doc, site.Line))
			}
		}
	case "goto", "if-goto", "label":
		f := d.FuncAt(c.line)
		if f == nil {
			return nil
		}
		for _, j := range f.Jumps {
			if j.Name == name {
				locations = append(locations, lineLocation(d, j.Line))
			}
		}
	}
	return locations
}

// --- Diagnostics ---

func diagnostics(ws *Workspace, uri string) []protocol.Diagnostic {
	d, ok := ws.Document(uri)
	if !ok {
		return nil
	}
	source := lspName
	diags := []protocol.Diagnostic{}
	for _, p := range ws.Problems(uri) {
		severity := protocol.DiagnosticSeverityError
		if p.Warning {
			severity = protocol.DiagnosticSeverityWarning
		}
		diags = append(diags, protocol.Diagnostic{
			Range:    lineRange(d.Text, p.Line),
			Severity: &severity,
			Source:   &source,
			Message:  p.Message,
		})
	}
	return diags
}

// --- Text helpers ---

// cursor is the instruction line under the editor cursor.
type cursor struct {
	fields []string // tokens of the line, comment stripped
	index  int      // token under the cursor, or the one about to be typed
	prefix string   // part of that token left of the cursor
	line   int      // 1-based
}

func (c cursor) op() string {
	if len(c.fields) == 0 {
		return ""
	}
	return c.fields[0]
}

// cursorAt splits the line at pos into tokens. It reports false inside a
// comment or beyond the end of the text.
func cursorAt(text string, pos protocol.Position) (cursor, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return cursor{}, false
	}
	line := strings.TrimRight(lines[pos.Line], "\r")
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	if i := strings.Index(line, "//"); i >= 0 {
		if col > i {
			return cursor{}, false
		}
		line = line[:i]
	}

	c := cursor{line: int(pos.Line) + 1, index: -1}
	before := 0
	for i := 0; i < len(line); {
		if isSpace(line[i]) {
			i++
			continue
		}
		start := i
		for i < len(line) && !isSpace(line[i]) {
			i++
		}
		if c.index < 0 && col >= start && col <= i {
			c.index = len(c.fields)
			c.prefix = line[start:col]
		}
		if i < col {
			before++
		}
		c.fields = append(c.fields, line[start:i])
	}
	if c.index < 0 {
		c.index = before
	}
	return c, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func lineRange(text string, line int) protocol.Range {
	if line <= 0 {
		return protocol.Range{}
	}
	lines := strings.Split(text, "\n")
	width := 0
	if line <= len(lines) {
		width = len(strings.TrimRight(lines[line-1], "\r"))
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line - 1), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line - 1), Character: protocol.UInteger(width)},
	}
}

func lineLocation(d *Document, line int) protocol.Location {
	return protocol.Location{
		URI:   protocol.DocumentUri(d.URI),
		Range: lineRange(d.Text, line),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
