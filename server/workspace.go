package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/parser"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

// Workspace holds the open documents and what was learned from them. It
// is not safe for concurrent use; the LSP server reaches it through a
// Worker.
type Workspace struct {
	opts compiler.Options
	docs map[string]*Document
}

// Document is one open .vm file.
type Document struct {
	URI  string
	Text string
	Unit *vmcode.Unit // nil when the text does not parse
	Err  error        // first parse or compile error

	Funcs  []*FuncInfo
	Object *compiler.Object // nil unless the unit compiled
}

// FuncInfo indexes one function declaration.
type FuncInfo struct {
	Name    string
	Line    int
	EndLine int // last line belonging to the function
	Locals  uint32
	Labels  map[string]int
	Jumps   []Site
	Calls   []Site
}

// Site is a reference to a label or function.
type Site struct {
	Name string
	Line int
	Args uint32 // calls only
}

// NewWorkspace creates an empty workspace compiling with opts.
func NewWorkspace(opts compiler.Options) *Workspace {
	return &Workspace{opts: opts, docs: make(map[string]*Document)}
}

// Options returns the compile options documents are checked with.
func (w *Workspace) Options() compiler.Options {
	return w.opts
}

// Open stores or replaces a document and analyzes it.
func (w *Workspace) Open(uri, text string) *Document {
	d := &Document{URI: uri, Text: text}
	w.docs[uri] = d
	w.analyze(d)
	return d
}

// Close forgets a document.
func (w *Workspace) Close(uri string) {
	delete(w.docs, uri)
}

// Document returns an open document.
func (w *Workspace) Document(uri string) (*Document, bool) {
	d, ok := w.docs[uri]
	return d, ok
}

// URIs returns the open documents in sorted order.
func (w *Workspace) URIs() []string {
	uris := make([]string, 0, len(w.docs))
	for u := range w.docs {
		uris = append(uris, u)
	}
	sort.Strings(uris)
	return uris
}

// unitID names the unit of a document after its file.
func unitID(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		uri = uri[i+1:]
	}
	return vmcode.UnitID(uri)
}

func (w *Workspace) analyze(d *Document) {
	u, err := parser.ParseUnit(unitID(d.URI), d.Text)
	if err != nil {
		d.Err = err
		return
	}
	d.Unit = u
	d.Funcs = indexFunctions(u, lineCount(d.Text))

	obj, err := compiler.CompileUnit(u, w.opts, w.signatures(d.URI))
	if err != nil {
		d.Err = err
		return
	}
	d.Object = obj
}

// signatures collects parameter counts of functions declared in the
// other open documents.
func (w *Workspace) signatures(except string) compiler.Signatures {
	var funcs []*compiler.FuncSource
	for _, uri := range w.URIs() {
		d := w.docs[uri]
		if uri == except || d.Unit == nil {
			continue
		}
		fs, err := compiler.SplitFunctions(d.Unit)
		if err != nil {
			continue
		}
		funcs = append(funcs, fs...)
	}
	return compiler.CollectSignatures(funcs, w.opts.Arity)
}

func lineCount(text string) int {
	return strings.Count(text, "\n") + 1
}

func indexFunctions(u *vmcode.Unit, lines int) []*FuncInfo {
	var funcs []*FuncInfo
	var cur *FuncInfo
	for _, in := range u.Instrs {
		line := in.Position().Line
		switch in := in.(type) {
		case *vmcode.Function:
			if cur != nil {
				cur.EndLine = line - 1
			}
			cur = &FuncInfo{Name: in.Name, Line: line, Locals: in.Locals, Labels: make(map[string]int)}
			funcs = append(funcs, cur)
			continue
		}
		if cur == nil {
			continue
		}
		switch in := in.(type) {
		case *vmcode.Label:
			if _, dup := cur.Labels[in.Name]; !dup {
				cur.Labels[in.Name] = line
			}
		case *vmcode.Goto:
			cur.Jumps = append(cur.Jumps, Site{Name: in.Target, Line: line})
		case *vmcode.IfGoto:
			cur.Jumps = append(cur.Jumps, Site{Name: in.Target, Line: line})
		case *vmcode.Call:
			cur.Calls = append(cur.Calls, Site{Name: in.Name, Line: line, Args: in.Args})
		}
	}
	if cur != nil {
		cur.EndLine = lines
	}
	return funcs
}

// FuncAt returns the function whose body contains line.
func (d *Document) FuncAt(line int) *FuncInfo {
	for _, f := range d.Funcs {
		if line >= f.Line && line <= f.EndLine {
			return f
		}
	}
	return nil
}

// Layout returns the compiled layout of a function in the document.
func (d *Document) Layout(name string) (compiler.Layout, bool) {
	if d.Object == nil {
		return compiler.Layout{}, false
	}
	for _, f := range d.Object.Funcs {
		if f.Code.Name == name {
			return f.Layout, true
		}
	}
	return compiler.Layout{}, false
}

// Declaration locates a function across the open documents.
func (w *Workspace) Declaration(name string) (*Document, *FuncInfo) {
	for _, uri := range w.URIs() {
		d := w.docs[uri]
		for _, f := range d.Funcs {
			if f.Name == name {
				return d, f
			}
		}
	}
	return nil, nil
}

// FunctionNames returns every declared function name, sorted.
func (w *Workspace) FunctionNames() []string {
	var names []string
	for _, d := range w.docs {
		for _, f := range d.Funcs {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

// CallSites returns every call of name across the open documents.
func (w *Workspace) CallSites(name string) map[string][]Site {
	sites := make(map[string][]Site)
	for _, uri := range w.URIs() {
		for _, f := range w.docs[uri].Funcs {
			for _, c := range f.Calls {
				if c.Name == name {
					sites[uri] = append(sites[uri], c)
				}
			}
		}
	}
	return sites
}

// Problem is a diagnostic in a document. Line is 1-based; 0 means the
// whole document.
type Problem struct {
	Line    int
	Message string
	Warning bool
}

// Problems reports a document's error, or when it compiled, calls to
// functions no open document declares.
func (w *Workspace) Problems(uri string) []Problem {
	d, ok := w.docs[uri]
	if !ok {
		return nil
	}
	if d.Err != nil {
		line := 0
		var ce *vmcode.Error
		if errors.As(d.Err, &ce) {
			line = ce.Pos.Line
		}
		return []Problem{{Line: line, Message: d.Err.Error()}}
	}
	var probs []Problem
	for _, f := range d.Funcs {
		for _, c := range f.Calls {
			if _, decl := w.Declaration(c.Name); decl == nil {
				probs = append(probs, Problem{
					Line:    c.Line,
					Message: fmt.Sprintf("call to %s, which no open file declares", c.Name),
					Warning: true,
				})
			}
		}
	}
	return probs
}
