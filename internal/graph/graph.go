package graph

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

// fileIndex holds the adjacency derived from one fragment's edges.
type fileIndex struct {
	parent   []int32                      // scope -> lexical parent
	starts   []int32                      // reference/push -> start scope
	bindings map[int32]map[string][]int32 // scope -> name -> local definitions
	imports  map[int32][]int32            // scope -> imported push nodes
	refs     []int32                      // references in source order
}

// Graph is the immutable union of all fragments of one snapshot. Queries
// hold a *Graph for their whole duration; a newer snapshot never mutates it.
type Graph struct {
	frags  []*Fragment
	files  []fileIndex
	byPath map[string]int32
	// members maps a container FQN to the non-local definitions beneath it,
	// across all files. The global namespace is "".
	members map[string]map[string][]Handle
	// bodies maps a namespace or type FQN to every scope declaring it, which
	// covers partial types and namespaces split across files.
	bodies map[string][]Handle

	hashOnce sync.Once
	hash     string
}

// Merge builds a Graph from fragments in the given order. The order is
// preserved by Files and determines query output order.
func Merge(frags []*Fragment) *Graph {
	g := &Graph{
		frags:   frags,
		files:   make([]fileIndex, len(frags)),
		byPath:  make(map[string]int32, len(frags)),
		members: make(map[string]map[string][]Handle),
		bodies:  make(map[string][]Handle),
	}
	for fi, f := range frags {
		file := int32(fi)
		g.byPath[f.Path] = file
		idx := &g.files[fi]
		idx.parent = fill(len(f.Nodes), None)
		idx.starts = fill(len(f.Nodes), None)
		idx.bindings = make(map[int32]map[string][]int32)
		idx.imports = make(map[int32][]int32)

		for _, e := range f.Edges {
			switch e.Kind {
			case EdgeLexicalParent:
				idx.parent[e.From] = e.To
			case EdgeReferenceStarts:
				idx.starts[e.From] = e.To
			case EdgeImport:
				idx.imports[e.From] = append(idx.imports[e.From], e.To)
			case EdgeDefinitionBinds:
				def := &f.Nodes[e.To]
				switch {
				case def.Decl == DeclConstructor:
				case def.Local:
					byName := idx.bindings[e.From]
					if byName == nil {
						byName = make(map[string][]int32)
						idx.bindings[e.From] = byName
					}
					byName[def.Name] = append(byName[def.Name], e.To)
				default:
					parent := def.ParentFQN()
					byName := g.members[parent]
					if byName == nil {
						byName = make(map[string][]Handle)
						g.members[parent] = byName
					}
					byName[def.Name] = append(byName[def.Name], Handle{File: file, Node: e.To})
				}
			}
		}

		for i := range f.Nodes {
			n := &f.Nodes[i]
			switch n.Kind {
			case KindScope:
				if n.Member && n.FQN != "" {
					g.bodies[n.FQN] = append(g.bodies[n.FQN], Handle{File: file, Node: int32(i)})
				}
			case KindReference:
				idx.refs = append(idx.refs, int32(i))
			}
		}
		sort.SliceStable(idx.refs, func(a, b int) bool {
			return f.Nodes[idx.refs[a]].Span.Less(f.Nodes[idx.refs[b]].Span)
		})
	}
	return g
}

func fill(n int, v int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Len returns the number of files in the graph.
func (g *Graph) Len() int { return len(g.frags) }

// Fragment returns the fragment in file slot i.
func (g *Graph) Fragment(i int) *Fragment { return g.frags[i] }

// Fragments returns all fragments in merge order. Callers must not modify
// the returned fragments.
func (g *Graph) Fragments() []*Fragment { return g.frags }

// File returns the slot of the fragment for path.
func (g *Graph) File(path string) (int32, bool) {
	i, ok := g.byPath[path]
	return i, ok
}

// References returns the reference nodes of file slot i ordered by position.
func (g *Graph) References(i int) []int32 { return g.files[i].refs }

// Node returns the node addressed by h, or nil if h is out of range.
func (g *Graph) Node(h Handle) *Node {
	if h.File < 0 || int(h.File) >= len(g.frags) {
		return nil
	}
	nodes := g.frags[h.File].Nodes
	if h.Node < 0 || int(h.Node) >= len(nodes) {
		return nil
	}
	return &nodes[h.Node]
}

// Members returns the definitions named name directly inside container.
func (g *Graph) Members(container, name string) []Handle {
	return g.members[container][name]
}

// Hash returns a deterministic digest of the graph content. Two graphs
// merged from equal fragments in the same order hash equal.
func (g *Graph) Hash() string {
	g.hashOnce.Do(func() {
		h := xxh3.New()
		for _, f := range g.frags {
			data, _ := json.Marshal(f)
			h.Write(data)
			h.Write([]byte{0})
		}
		sum := h.Sum(nil)
		g.hash = hex.EncodeToString(sum)
	})
	return g.hash
}
