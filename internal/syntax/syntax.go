// Package syntax adapts a concrete parser into the small tree interface the
// graph builder walks. The builder never sees tree-sitter types directly.
package syntax

import "context"

// Point is a zero-based row/column position in a source file.
type Point struct {
	Row    uint32
	Column uint32
}

// Span is a half-open source range.
type Span struct {
	Start Point
	End   Point
}

// Node is a read-only view of one syntax tree node.
type Node interface {
	Type() string
	Text() string
	IsNamed() bool
	IsMissing() bool
	HasError() bool

	ChildCount() int
	Child(i int) Node
	NamedChildCount() int
	NamedChild(i int) Node
	// ChildByField returns the child bound to a grammar field, or nil.
	ChildByField(name string) Node

	Span() Span
}

// Tree is a parsed file. Close releases parser-owned memory.
type Tree interface {
	Root() Node
	HasError() bool
	Close()
}

// Parser turns source bytes into a Tree. Implementations must be safe for
// concurrent use.
type Parser interface {
	Parse(ctx context.Context, src []byte) (Tree, error)
}

// NamedChildren returns the named children of n in order.
func NamedChildren(n Node) []Node {
	if n == nil {
		return nil
	}
	count := n.NamedChildCount()
	out := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Children returns all children of n, anonymous tokens included.
func Children(n Node) []Node {
	if n == nil {
		return nil
	}
	count := n.ChildCount()
	out := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.Child(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}
