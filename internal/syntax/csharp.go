package syntax

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
)

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".cs": "csharp",
}

// Grammar is lazily initialized on first use via sync.Once.
var (
	csharpGrammar *sitter.Language
	grammarOnce   sync.Once
)

func grammar() *sitter.Language {
	grammarOnce.Do(func() {
		csharpGrammar = csharp.GetLanguage()
	})
	return csharpGrammar
}

// IsCSharp reports whether path names a C# source file.
func IsCSharp(path string) bool {
	lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return ok && lang == "csharp"
}

// CSharp is a Parser backed by the tree-sitter C# grammar. A fresh
// sitter.Parser is created per call since those are not goroutine safe.
type CSharp struct{}

// NewCSharp returns the tree-sitter C# parser.
func NewCSharp() *CSharp { return &CSharp{} }

// Parse implements Parser.
func (CSharp) Parse(ctx context.Context, src []byte) (Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("syntax: tree-sitter parse failed: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("syntax: tree-sitter returned no tree")
	}
	return &tsTree{tree: tree, src: src}, nil
}

type tsTree struct {
	tree *sitter.Tree
	src  []byte
}

func (t *tsTree) Root() Node {
	return wrap(t.tree.RootNode(), t.src)
}

func (t *tsTree) HasError() bool {
	return t.tree.RootNode().HasError()
}

func (t *tsTree) Close() {
	t.tree.Close()
}

type tsNode struct {
	n   *sitter.Node
	src []byte
}

func wrap(n *sitter.Node, src []byte) Node {
	if n == nil || n.IsNull() {
		return nil
	}
	return &tsNode{n: n, src: src}
}

func (n *tsNode) Type() string          { return n.n.Type() }
func (n *tsNode) Text() string          { return n.n.Content(n.src) }
func (n *tsNode) IsNamed() bool         { return n.n.IsNamed() }
func (n *tsNode) IsMissing() bool       { return n.n.IsMissing() }
func (n *tsNode) HasError() bool        { return n.n.HasError() }
func (n *tsNode) ChildCount() int       { return int(n.n.ChildCount()) }
func (n *tsNode) Child(i int) Node      { return wrap(n.n.Child(i), n.src) }
func (n *tsNode) NamedChildCount() int  { return int(n.n.NamedChildCount()) }
func (n *tsNode) NamedChild(i int) Node { return wrap(n.n.NamedChild(i), n.src) }

func (n *tsNode) ChildByField(name string) Node {
	return wrap(n.n.ChildByFieldName(name), n.src)
}

func (n *tsNode) Span() Span {
	s, e := n.n.StartPoint(), n.n.EndPoint()
	return Span{
		Start: Point{Row: s.Row, Column: s.Column},
		End:   Point{Row: e.Row, Column: e.Column},
	}
}
