package graph

import "strings"

// NodeKind classifies a graph node.
type NodeKind string

const (
	KindScope      NodeKind = "scope"
	KindDefinition NodeKind = "definition"
	KindReference  NodeKind = "reference"
	KindPush       NodeKind = "push"
)

// EdgeKind classifies a graph edge.
type EdgeKind string

const (
	// EdgeLexicalParent links a scope to its enclosing scope.
	EdgeLexicalParent EdgeKind = "lexical_parent"
	// EdgeImport links a scope (or type body) to a push node it imports.
	EdgeImport EdgeKind = "import"
	// EdgeDefinitionBinds links a scope to a definition it binds.
	EdgeDefinitionBinds EdgeKind = "definition_binds"
	// EdgeReferenceStarts links a reference or push node to the scope
	// where its resolution begins.
	EdgeReferenceStarts EdgeKind = "reference_starts"
)

// DeclKind is the declaration kind of a definition node.
type DeclKind string

const (
	DeclNamespace     DeclKind = "namespace"
	DeclClass         DeclKind = "class"
	DeclStruct        DeclKind = "struct"
	DeclInterface     DeclKind = "interface"
	DeclEnum          DeclKind = "enum"
	DeclRecord        DeclKind = "record"
	DeclDelegate      DeclKind = "delegate"
	DeclMethod        DeclKind = "method"
	DeclConstructor   DeclKind = "constructor"
	DeclProperty      DeclKind = "property"
	DeclField         DeclKind = "field"
	DeclEvent         DeclKind = "event"
	DeclEnumMember    DeclKind = "enum_member"
	DeclVariable      DeclKind = "variable"
	DeclParameter     DeclKind = "parameter"
	DeclTypeParameter DeclKind = "type_parameter"
)

// IsType reports whether d declares a type.
func (d DeclKind) IsType() bool {
	switch d {
	case DeclClass, DeclStruct, DeclInterface, DeclEnum, DeclRecord, DeclDelegate, DeclTypeParameter:
		return true
	}
	return false
}

// IsMemberContainer reports whether members can be looked up beneath d.
func (d DeclKind) IsMemberContainer() bool {
	return d == DeclNamespace || (d.IsType() && d != DeclTypeParameter && d != DeclDelegate)
}

// Usage is the syntactic context of a reference.
type Usage string

const (
	UsageType       Usage = "type"
	UsageInvocation Usage = "invocation"
	UsageExpression Usage = "expression"
	UsageImport     Usage = "import"
)

// PushFlavor says what a push node's symbol stack is used for.
type PushFlavor string

const (
	PushUsing       PushFlavor = "using"
	PushUsingStatic PushFlavor = "using_static"
	PushAlias       PushFlavor = "alias"
	PushBase        PushFlavor = "base"
	// PushType names the declared type of a definition.
	PushType PushFlavor = "type"
	// PushInfer names an expression whose resolved target's type is the
	// type of the definition (var x = Factory.Make()).
	PushInfer PushFlavor = "infer"
)

// SourceKind tags where a file came from.
type SourceKind string

const (
	SourceProject    SourceKind = "source"
	SourceDependency SourceKind = "dependency"
)

// None marks an absent node index.
const None int32 = -1

// Span is a zero-based source range.
type Span struct {
	StartLine int `json:"sl"`
	StartCol  int `json:"sc"`
	EndLine   int `json:"el"`
	EndCol    int `json:"ec"`
}

// Less orders spans by start, then end.
func (s Span) Less(o Span) bool {
	if s.StartLine != o.StartLine {
		return s.StartLine < o.StartLine
	}
	if s.StartCol != o.StartCol {
		return s.StartCol < o.StartCol
	}
	if s.EndLine != o.EndLine {
		return s.EndLine < o.EndLine
	}
	return s.EndCol < o.EndCol
}

// Node is one arena entry of a fragment. Which fields are meaningful
// depends on Kind.
type Node struct {
	Kind NodeKind `json:"k"`
	Span Span     `json:"s"`

	// Definitions.
	Name  string   `json:"n,omitempty"`
	FQN   string   `json:"q,omitempty"`
	Decl  DeclKind `json:"d,omitempty"`
	Local bool     `json:"l,omitempty"`
	// TypeRef is the push node naming this definition's type.
	TypeRef int32 `json:"t"`

	// Scopes. Member scopes expose namespace or type members by FQN.
	Member bool  `json:"m,omitempty"`
	Owner  int32 `json:"o"`

	// References and pushes.
	Path     []string   `json:"p,omitempty"`
	Usage    Usage      `json:"u,omitempty"`
	Flavor   PushFlavor `json:"f,omitempty"`
	Alias    string     `json:"a,omitempty"`
	Absolute bool       `json:"g,omitempty"`
}

// ParentFQN returns the FQN of the container a definition belongs to.
func (n *Node) ParentFQN() string {
	if len(n.FQN) <= len(n.Name) {
		return ""
	}
	return strings.TrimSuffix(n.FQN[:len(n.FQN)-len(n.Name)], ".")
}

// Edge is a typed link between two nodes of the same fragment.
type Edge struct {
	From int32    `json:"f"`
	To   int32    `json:"t"`
	Kind EdgeKind `json:"k"`
}

// FileMeta identifies the file a fragment was built from.
type FileMeta struct {
	Path        string
	Fingerprint string
	Kind        SourceKind
	Origin      string
}

// Fragment is the self-contained subgraph derived from one file. It can be
// rebuilt, stored and loaded without touching any other file's fragment.
type Fragment struct {
	Path        string     `json:"path"`
	Fingerprint string     `json:"fingerprint"`
	Kind        SourceKind `json:"kind"`
	Origin      string     `json:"origin,omitempty"`
	ParseError  bool       `json:"parse_error,omitempty"`
	Nodes       []Node     `json:"nodes"`
	Edges       []Edge     `json:"edges"`
	// Imports lists the dotted targets of the file's using directives in
	// source order, unresolved and without duplicates.
	Imports []string `json:"imports,omitempty"`
}

// Root is the index of the fragment's compilation-unit scope.
const Root int32 = 0

// Handle addresses a node across the merged graph.
type Handle struct {
	File int32
	Node int32
}
