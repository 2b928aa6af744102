package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/syntax"
)

// BuilderVersion identifies the fragment layout this builder emits. Stored
// fragments produced by a different version are treated as stale.
const BuilderVersion = "csharp-fragment/2"

// ErrParse marks a fragment built from source with syntax errors. It is a
// diagnostic, not a failure: the partial fragment is still merged.
var ErrParse = errors.New("graph: syntax errors")

// Builder turns one C# file into its Fragment. It does no resolution; all
// cross-file binding happens later through the merged member index.
type Builder struct {
	parser syntax.Parser
}

// NewBuilder creates a Builder over the given parser.
func NewBuilder(p syntax.Parser) *Builder {
	return &Builder{parser: p}
}

// Build parses src and emits the fragment for meta. Syntax errors are not
// fatal: the fragment is marked ParseError and covers what parsed cleanly.
// An error is returned only when no tree could be produced at all.
func (b *Builder) Build(ctx context.Context, meta FileMeta, src []byte) (*Fragment, error) {
	tree, err := b.parser.Parse(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("graph: build %s: %w", meta.Path, err)
	}
	defer tree.Close()

	root := tree.Root()
	if root == nil {
		return nil, fmt.Errorf("graph: build %s: empty syntax tree", meta.Path)
	}

	f := &Fragment{
		Path:        meta.Path,
		Fingerprint: meta.Fingerprint,
		Kind:        meta.Kind,
		Origin:      meta.Origin,
		ParseError:  tree.HasError(),
		Nodes:       make([]Node, 0, 64),
	}
	w := &walker{f: f, scope: None}
	w.scope = w.add(Node{Kind: KindScope, Span: spanOf(root), Member: true, Owner: None, TypeRef: None})
	w.compilationUnit(root)
	return f, nil
}

// walker carries the DFS state while emitting one fragment.
type walker struct {
	f     *Fragment
	scope int32
	// ns is the FQN of the innermost namespace or type being walked.
	ns string
}

type segment struct {
	name    string
	span    Span
	invoked bool
}

func (w *walker) add(n Node) int32 {
	w.f.Nodes = append(w.f.Nodes, n)
	return int32(len(w.f.Nodes) - 1)
}

func (w *walker) edge(from, to int32, kind EdgeKind) {
	w.f.Edges = append(w.f.Edges, Edge{From: from, To: to, Kind: kind})
}

func (w *walker) newScope(span Span, fqn string, member bool, owner int32) int32 {
	id := w.add(Node{Kind: KindScope, Span: span, FQN: fqn, Member: member, Owner: owner, TypeRef: None})
	w.edge(id, w.scope, EdgeLexicalParent)
	return id
}

// enter makes scope current and returns the function restoring the
// previous state.
func (w *walker) enter(scope int32, ns string) func() {
	prevScope, prevNS := w.scope, w.ns
	w.scope, w.ns = scope, ns
	return func() { w.scope, w.ns = prevScope, prevNS }
}

func (w *walker) define(name string, decl DeclKind, span Span, local bool) int32 {
	fqn := name
	if !local {
		fqn = joinFQN(w.ns, name)
	}
	id := w.add(Node{Kind: KindDefinition, Span: span, Name: name, FQN: fqn, Decl: decl, Local: local, Owner: None, TypeRef: None})
	w.edge(w.scope, id, EdgeDefinitionBinds)
	return id
}

func (w *walker) reference(path []string, usage Usage, span Span, absolute bool) int32 {
	id := w.add(Node{Kind: KindReference, Span: span, Path: path, Usage: usage, Absolute: absolute, Owner: None, TypeRef: None})
	w.edge(id, w.scope, EdgeReferenceStarts)
	return id
}

func (w *walker) push(path []string, flavor PushFlavor, alias string, absolute bool, span Span) int32 {
	id := w.add(Node{Kind: KindPush, Span: span, Path: path, Flavor: flavor, Alias: alias, Absolute: absolute, Owner: None, TypeRef: None})
	w.edge(id, w.scope, EdgeReferenceStarts)
	return id
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (w *walker) compilationUnit(n syntax.Node) {
	for _, c := range syntax.NamedChildren(n) {
		w.visit(c)
	}
}

func (w *walker) visit(n syntax.Node) {
	if n == nil || n.IsMissing() {
		return
	}
	switch n.Type() {
	case "ERROR", "comment", "extern_alias_directive", "name_colon", "name_equals",
		"predefined_type", "implicit_type", "preproc_region", "preproc_endregion":
		return
	case "using_directive":
		w.usingDirective(n)
	case "namespace_declaration":
		w.namespace(n)
	case "file_scoped_namespace_declaration":
		w.fileScopedNamespace(n)
	case "class_declaration":
		w.typeDecl(n, DeclClass)
	case "struct_declaration", "record_struct_declaration":
		w.typeDecl(n, DeclStruct)
	case "interface_declaration":
		w.typeDecl(n, DeclInterface)
	case "enum_declaration":
		w.typeDecl(n, DeclEnum)
	case "record_declaration":
		w.typeDecl(n, DeclRecord)
	case "delegate_declaration":
		w.delegate(n)
	case "method_declaration":
		w.callable(n, DeclMethod, false)
	case "local_function_statement":
		w.callable(n, DeclMethod, true)
	case "constructor_declaration", "destructor_declaration", "operator_declaration", "conversion_operator_declaration":
		w.callable(n, DeclConstructor, false)
	case "field_declaration":
		w.field(n, DeclField)
	case "event_field_declaration":
		w.field(n, DeclEvent)
	case "property_declaration":
		w.property(n, DeclProperty)
	case "event_declaration":
		w.property(n, DeclEvent)
	case "indexer_declaration":
		w.indexer(n)
	case "enum_member_declaration":
		w.enumMember(n)
	case "variable_declaration":
		w.variables(n, DeclVariable, true)
	case "parameter":
		w.parameter(n)
	case "block", "for_statement", "using_statement", "fixed_statement", "catch_clause", "switch_section":
		w.scoped(n)
	case "foreach_statement":
		w.foreach(n)
	case "catch_declaration", "declaration_expression":
		w.typedLocal(n, n.ChildByField("type"), n.ChildByField("name"))
	case "declaration_pattern":
		w.typedLocal(n, n.ChildByField("type"), designationName(n.ChildByField("designation")))
	case "lambda_expression", "anonymous_method_expression":
		w.lambda(n)
	case "identifier", "member_access_expression", "invocation_expression", "generic_name",
		"qualified_name", "alias_qualified_name", "conditional_access_expression":
		w.chainExpr(n)
	case "object_creation_expression":
		w.objectCreation(n)
	case "array_creation_expression", "cast_expression":
		w.typeRefs(n.ChildByField("type"))
		w.visitExcept(n, n.ChildByField("type"))
	case "typeof_expression", "default_expression", "sizeof_expression":
		if t := n.ChildByField("type"); t != nil {
			w.typeRefs(t)
		} else {
			for _, c := range syntax.NamedChildren(n) {
				w.typeRefs(c)
			}
		}
	case "attribute":
		w.attribute(n)
	case "type_parameter_constraints_clause":
		w.constraints(n)
	case "type_parameter_list":
		return
	case "type_argument_list", "base_list":
		for _, c := range syntax.NamedChildren(n) {
			w.typeRefs(c)
		}
	default:
		for _, c := range syntax.NamedChildren(n) {
			w.visit(c)
		}
	}
}

// visitExcept visits the named children of n that are not in skip.
func (w *walker) visitExcept(n syntax.Node, skip ...syntax.Node) {
	for _, c := range syntax.NamedChildren(n) {
		if !containsNode(skip, c) {
			w.visit(c)
		}
	}
}

func (w *walker) usingDirective(n syntax.Node) {
	var (
		static, sawEquals bool
		alias             string
		names             []syntax.Node
	)
	for _, c := range syntax.Children(n) {
		switch c.Type() {
		case "static":
			static = true
		case "=":
			sawEquals = true
		case "name_equals":
			if id := firstOfType(c, "identifier"); id != nil {
				alias = identName(id)
			}
		case "comment":
		default:
			if c.IsNamed() {
				names = append(names, c)
			}
		}
	}
	if len(names) == 0 {
		return
	}
	target := names[len(names)-1]
	if sawEquals && len(names) >= 2 {
		alias = identName(names[0])
	}
	path, abs, args := typePath(target)
	if len(path) == 0 {
		return
	}
	flavor := PushUsing
	switch {
	case alias != "":
		flavor = PushAlias
	case static:
		flavor = PushUsingStatic
	}
	p := w.push(path, flavor, alias, abs, spanOf(target))
	w.edge(w.scope, p, EdgeImport)
	w.reference(path, UsageImport, spanOf(target), abs)
	if imp := strings.Join(path, "."); !slices.Contains(w.f.Imports, imp) {
		w.f.Imports = append(w.f.Imports, imp)
	}
	for _, a := range args {
		w.typeRefs(a)
	}
}

// namespaceScope emits one namespace definition per dotted segment and
// returns the body scope of the innermost one.
func (w *walker) namespaceScope(nameNode syntax.Node, span Span) (int32, string) {
	path, _, _ := typePath(nameNode)
	if len(path) == 0 {
		return w.scope, w.ns
	}
	nameSpan := spanOf(nameNode)
	restore := w.enter(w.scope, w.ns)
	def := None
	for _, seg := range path {
		def = w.define(seg, DeclNamespace, nameSpan, false)
		w.ns = w.f.Nodes[def].FQN
	}
	fqn := w.ns
	restore()
	return w.newScope(span, fqn, true, def), fqn
}

func (w *walker) namespace(n syntax.Node) {
	nameNode := n.ChildByField("name")
	scope, fqn := w.namespaceScope(nameNode, spanOf(n))
	restore := w.enter(scope, fqn)
	defer restore()
	body := n.ChildByField("body")
	if body == nil {
		w.visitExcept(n, nameNode)
		return
	}
	for _, c := range syntax.NamedChildren(body) {
		w.visit(c)
	}
}

// fileScopedNamespace switches the current scope for the remainder of the
// compilation unit. Depending on the grammar version the members are either
// children of the declaration or its following siblings.
func (w *walker) fileScopedNamespace(n syntax.Node) {
	nameNode := n.ChildByField("name")
	scope, fqn := w.namespaceScope(nameNode, spanOf(n))
	w.scope, w.ns = scope, fqn
	w.visitExcept(n, nameNode)
}

func (w *walker) typeDecl(n syntax.Node, decl DeclKind) {
	nameNode := n.ChildByField("name")
	if nameNode == nil {
		w.visitExcept(n)
		return
	}
	def := w.define(identName(nameNode), decl, spanOf(nameNode), false)
	fqn := w.f.Nodes[def].FQN
	body := n.ChildByField("body")
	params := n.ChildByField("parameters")
	if params == nil {
		params = firstOfType(n, "parameter_list")
	}
	typeParams := n.ChildByField("type_parameters")
	if typeParams == nil {
		typeParams = firstOfType(n, "type_parameter_list")
	}
	bases := firstOfType(n, "base_list")

	scope := w.newScope(spanOf(n), fqn, true, def)

	// Base types resolve from the enclosing scope, not from the type body.
	for _, b := range syntax.NamedChildren(bases) {
		t := b
		if b.Type() == "primary_constructor_base_type" {
			t = b.ChildByField("type")
			if t == nil {
				t = b.NamedChild(0)
			}
			w.visit(b.ChildByField("arguments"))
		}
		w.typeRefs(t)
		if path, abs, _ := declaredTypePath(t); len(path) > 0 {
			p := w.push(path, PushBase, "", abs, spanOf(t))
			w.edge(scope, p, EdgeImport)
		}
	}

	var constraints []syntax.Node
	for _, c := range syntax.NamedChildren(n) {
		if c.Type() == "type_parameter_constraints_clause" {
			constraints = append(constraints, c)
		}
	}
	skip := append([]syntax.Node{nameNode, body, params, typeParams, bases}, constraints...)
	w.visitExcept(n, skip...)

	restore := w.enter(scope, fqn)
	defer restore()

	w.typeParameters(typeParams)
	for _, p := range syntax.NamedChildren(params) {
		if p.Type() != "parameter" {
			continue
		}
		if decl == DeclRecord || n.Type() == "record_struct_declaration" {
			w.typedDefinition(p, p.ChildByField("type"), p.ChildByField("name"), DeclProperty, false)
		} else {
			w.parameter(p)
		}
	}
	for _, c := range constraints {
		w.constraints(c)
	}
	for _, c := range syntax.NamedChildren(body) {
		w.visit(c)
	}
}

func (w *walker) typeParameters(list syntax.Node) {
	for _, tp := range syntax.NamedChildren(list) {
		if tp.Type() != "type_parameter" {
			continue
		}
		name := tp.ChildByField("name")
		if name == nil {
			name = firstOfType(tp, "identifier")
		}
		if name != nil {
			w.define(identName(name), DeclTypeParameter, spanOf(name), true)
		}
	}
}

func (w *walker) constraints(n syntax.Node) {
	for i, c := range syntax.NamedChildren(n) {
		if i == 0 && c.Type() == "identifier" {
			continue
		}
		w.typeRefs(c)
	}
}

func (w *walker) delegate(n syntax.Node) {
	nameNode := n.ChildByField("name")
	if nameNode == nil {
		return
	}
	ret := returnType(n)
	w.typeRefs(ret)
	def := w.define(identName(nameNode), DeclDelegate, spanOf(nameNode), false)
	w.setType(def, ret)

	scope := w.newScope(spanOf(n), "", false, def)
	restore := w.enter(scope, w.ns)
	defer restore()
	w.typeParameters(n.ChildByField("type_parameters"))
	for _, p := range syntax.NamedChildren(n.ChildByField("parameters")) {
		w.visit(p)
	}
}

// callable handles methods, local functions, constructors and operators.
// Constructors and operators produce a definition that is never bound by
// name, so they cannot shadow the type they belong to.
func (w *walker) callable(n syntax.Node, decl DeclKind, local bool) {
	nameNode := n.ChildByField("name")
	ret := returnType(n)
	params := n.ChildByField("parameters")
	body := n.ChildByField("body")
	if body == nil {
		body = firstOfType(n, "arrow_expression_clause")
	}
	typeParams := n.ChildByField("type_parameters")
	if typeParams == nil {
		typeParams = firstOfType(n, "type_parameter_list")
	}

	w.typeRefs(ret)
	def := None
	if nameNode != nil {
		def = w.define(identName(nameNode), decl, spanOf(nameNode), local)
		if decl != DeclConstructor {
			w.setType(def, ret)
		}
	}

	var constraints []syntax.Node
	for _, c := range syntax.NamedChildren(n) {
		if c.Type() == "type_parameter_constraints_clause" {
			constraints = append(constraints, c)
		}
	}
	skip := append([]syntax.Node{nameNode, ret, params, body, typeParams}, constraints...)

	scope := w.newScope(spanOf(n), "", false, def)
	restore := w.enter(scope, w.ns)
	defer restore()

	w.typeParameters(typeParams)
	for _, p := range syntax.NamedChildren(params) {
		w.visit(p)
	}
	for _, c := range constraints {
		w.constraints(c)
	}
	// Attributes, constructor initializers and explicit interface names.
	w.visitExcept(n, skip...)
	w.body(body)
}

// body walks a method-like body without opening another block scope.
func (w *walker) body(n syntax.Node) {
	if n == nil {
		return
	}
	for _, c := range syntax.NamedChildren(n) {
		w.visit(c)
	}
}

func (w *walker) parameter(n syntax.Node) {
	w.typedDefinition(n, n.ChildByField("type"), n.ChildByField("name"), DeclParameter, true)
}

// typedDefinition emits a definition with a declared type and walks the
// rest of the declaring node (attributes, default values).
func (w *walker) typedDefinition(n, typeNode, nameNode syntax.Node, decl DeclKind, local bool) {
	w.typeRefs(typeNode)
	w.visitExcept(n, typeNode, nameNode)
	if nameNode == nil || nameNode.Type() != "identifier" {
		return
	}
	def := w.define(identName(nameNode), decl, spanOf(nameNode), local)
	w.setType(def, typeNode)
}

func (w *walker) field(n syntax.Node, decl DeclKind) {
	vd := firstOfType(n, "variable_declaration")
	w.visitExcept(n, vd)
	if vd != nil {
		w.variables(vd, decl, false)
	}
}

func (w *walker) property(n syntax.Node, decl DeclKind) {
	typeNode := n.ChildByField("type")
	nameNode := n.ChildByField("name")
	accessors := n.ChildByField("accessors")
	if accessors == nil {
		accessors = firstOfType(n, "accessor_list")
	}
	value := n.ChildByField("value")
	if value == nil {
		value = firstOfType(n, "arrow_expression_clause")
	}

	w.typeRefs(typeNode)
	def := None
	if nameNode != nil {
		def = w.define(identName(nameNode), decl, spanOf(nameNode), false)
		w.setType(def, typeNode)
	}
	w.visitExcept(n, typeNode, nameNode, accessors, value)

	scope := w.newScope(spanOf(n), "", false, def)
	restore := w.enter(scope, w.ns)
	defer restore()
	w.body(value)
	for _, acc := range syntax.NamedChildren(accessors) {
		w.body(acc)
	}
}

func (w *walker) indexer(n syntax.Node) {
	typeNode := n.ChildByField("type")
	w.typeRefs(typeNode)
	scope := w.newScope(spanOf(n), "", false, None)
	restore := w.enter(scope, w.ns)
	defer restore()
	w.visitExcept(n, typeNode)
}

func (w *walker) enumMember(n syntax.Node) {
	nameNode := n.ChildByField("name")
	if nameNode == nil {
		nameNode = firstOfType(n, "identifier")
	}
	if nameNode != nil {
		w.define(identName(nameNode), DeclEnumMember, spanOf(nameNode), false)
	}
	w.visitExcept(n, nameNode)
}

// variables emits one definition per declarator. Locals bind in the current
// block scope; fields bind as members of the enclosing type.
func (w *walker) variables(vd syntax.Node, decl DeclKind, local bool) {
	typeNode := vd.ChildByField("type")
	if typeNode == nil && vd.NamedChildCount() > 0 && vd.NamedChild(0).Type() != "variable_declarator" {
		typeNode = vd.NamedChild(0)
	}
	w.typeRefs(typeNode)
	infer := typeNode == nil || isVar(typeNode)

	for _, d := range syntax.NamedChildren(vd) {
		if d.Type() != "variable_declarator" {
			continue
		}
		nameNode := d.ChildByField("name")
		if nameNode == nil {
			nameNode = firstOfType(d, "identifier")
		}
		init := initializerOf(d)
		w.visitExcept(d, nameNode)
		if nameNode == nil || nameNode.Type() != "identifier" {
			continue
		}
		def := w.define(identName(nameNode), decl, spanOf(nameNode), local)
		if infer {
			w.inferType(def, init)
		} else {
			w.setType(def, typeNode)
		}
	}
}

// typedLocal handles catch declarations, declaration expressions and
// declaration patterns.
func (w *walker) typedLocal(n, typeNode, nameNode syntax.Node) {
	w.typeRefs(typeNode)
	if nameNode == nil || nameNode.Type() != "identifier" {
		w.visitExcept(n, typeNode)
		return
	}
	def := w.define(identName(nameNode), DeclVariable, spanOf(nameNode), true)
	if typeNode != nil && !isVar(typeNode) {
		w.setType(def, typeNode)
	}
}

func (w *walker) scoped(n syntax.Node) {
	scope := w.newScope(spanOf(n), "", false, None)
	restore := w.enter(scope, w.ns)
	defer restore()
	for _, c := range syntax.NamedChildren(n) {
		w.visit(c)
	}
}

func (w *walker) foreach(n syntax.Node) {
	typeNode := n.ChildByField("type")
	left := n.ChildByField("left")
	right := n.ChildByField("right")
	body := n.ChildByField("body")
	w.visit(right)

	scope := w.newScope(spanOf(n), "", false, None)
	restore := w.enter(scope, w.ns)
	defer restore()
	w.typeRefs(typeNode)
	if left != nil && left.Type() == "identifier" {
		def := w.define(identName(left), DeclVariable, spanOf(left), true)
		if typeNode != nil && !isVar(typeNode) {
			w.setType(def, typeNode)
		}
	} else {
		w.visit(left)
	}
	w.visit(body)
}

func (w *walker) lambda(n syntax.Node) {
	params := n.ChildByField("parameters")
	body := n.ChildByField("body")
	scope := w.newScope(spanOf(n), "", false, None)
	restore := w.enter(scope, w.ns)
	defer restore()

	if params != nil {
		if params.Type() == "identifier" {
			w.define(identName(params), DeclParameter, spanOf(params), true)
		} else {
			for _, p := range syntax.NamedChildren(params) {
				if p.Type() == "identifier" {
					w.define(identName(p), DeclParameter, spanOf(p), true)
					continue
				}
				w.visit(p)
			}
		}
	}
	if body != nil && body.Type() == "block" {
		w.body(body)
	} else {
		w.visit(body)
	}
	w.visitExcept(n, params, body)
}

func (w *walker) objectCreation(n syntax.Node) {
	typeNode := n.ChildByField("type")
	w.typeRefs(typeNode)
	w.visit(n.ChildByField("arguments"))

	init := n.ChildByField("initializer")
	if init == nil {
		init = firstOfType(n, "initializer_expression")
	}
	typeSegs, abs, _ := declaredTypePath(typeNode)
	for _, c := range syntax.NamedChildren(init) {
		left := c.ChildByField("left")
		if c.Type() != "assignment_expression" || left == nil || left.Type() != "identifier" || len(typeSegs) == 0 {
			w.visit(c)
			continue
		}
		// new C { Prop = v } names a member of C.
		path := append(append([]string{}, typeSegs...), identName(left))
		w.reference(path, UsageExpression, spanOf(left), abs)
		w.visit(c.ChildByField("right"))
	}
}

func (w *walker) attribute(n syntax.Node) {
	nameNode := n.ChildByField("name")
	if nameNode == nil {
		nameNode = n.NamedChild(0)
	}
	path, abs, args := typePath(nameNode)
	if len(path) > 0 {
		w.reference(path, UsageType, spanOf(nameNode), abs)
		last := path[len(path)-1]
		if !strings.HasSuffix(last, "Attribute") {
			long := append(append([]string{}, path[:len(path)-1]...), last+"Attribute")
			w.reference(long, UsageType, spanOf(nameNode), abs)
		}
	}
	for _, a := range args {
		w.typeRefs(a)
	}
	w.visitExcept(n, nameNode)
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// typeRefs emits references for every named type in a type position.
func (w *walker) typeRefs(n syntax.Node) {
	if n == nil || n.IsMissing() {
		return
	}
	switch n.Type() {
	case "identifier", "qualified_name", "alias_qualified_name", "generic_name":
		if isVar(n) {
			return
		}
		path, abs, args := typePath(n)
		if len(path) > 0 {
			w.reference(path, UsageType, spanOf(n), abs)
		}
		for _, a := range args {
			w.typeRefs(a)
		}
	case "predefined_type", "implicit_type", "ERROR", "comment":
	case "tuple_element":
		w.typeRefs(n.ChildByField("type"))
	default:
		for _, c := range syntax.NamedChildren(n) {
			w.typeRefs(c)
		}
	}
}

// chainExpr emits one reference per prefix of a dotted expression so that
// a.b.M() yields references for a, a.b and a.b.M.
func (w *walker) chainExpr(n syntax.Node) {
	c := &chain{}
	if !c.collect(n) {
		w.unchained(n)
		return
	}
	for i, seg := range c.segs {
		if i == 0 && (seg.name == "this" || seg.name == "base") {
			continue
		}
		path := make([]string, i+1)
		for j := 0; j <= i; j++ {
			path[j] = c.segs[j].name
		}
		usage := UsageExpression
		if seg.invoked {
			usage = UsageInvocation
		}
		w.reference(path, usage, seg.span, c.absolute)
	}
	for _, t := range c.typeArgs {
		w.typeRefs(t)
	}
	for _, a := range c.args {
		w.visit(a)
	}
}

// unchained walks an expression whose receiver cannot be named. Member
// names hanging off such a receiver are skipped since nothing can bind them.
func (w *walker) unchained(n syntax.Node) {
	switch n.Type() {
	case "member_access_expression":
		w.visit(n.ChildByField("expression"))
	case "conditional_access_expression":
		cond := n.ChildByField("condition")
		if cond == nil {
			cond = n.NamedChild(0)
		}
		w.visit(cond)
	case "invocation_expression":
		w.visit(n.ChildByField("function"))
		w.visit(n.ChildByField("arguments"))
	default:
		for _, c := range syntax.NamedChildren(n) {
			w.visit(c)
		}
	}
}

type chain struct {
	segs     []segment
	absolute bool
	typeArgs []syntax.Node
	args     []syntax.Node
}

func (c *chain) collect(n syntax.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "identifier":
		c.segs = append(c.segs, segment{name: identName(n), span: spanOf(n)})
		return true
	case "generic_name":
		id := firstOfType(n, "identifier")
		if id == nil {
			return false
		}
		c.segs = append(c.segs, segment{name: identName(id), span: spanOf(id)})
		c.typeArgs = append(c.typeArgs, syntax.NamedChildren(firstOfType(n, "type_argument_list"))...)
		return true
	case "this_expression", "this":
		c.segs = append(c.segs, segment{name: "this", span: spanOf(n)})
		return true
	case "base_expression", "base":
		c.segs = append(c.segs, segment{name: "base", span: spanOf(n)})
		return true
	case "member_access_expression":
		left := n.ChildByField("expression")
		right := n.ChildByField("name")
		if right == nil {
			right = lastNamed(n)
		}
		return c.collect(left) && c.collect(right)
	case "qualified_name":
		left, right := qualifiedParts(n)
		return c.collect(left) && c.collect(right)
	case "alias_qualified_name":
		alias, name := aliasParts(n)
		if alias != nil && alias.Text() == "global" && len(c.segs) == 0 {
			c.absolute = true
			return c.collect(name)
		}
		return c.collect(alias) && c.collect(name)
	case "invocation_expression":
		if !c.collect(n.ChildByField("function")) {
			return false
		}
		c.segs[len(c.segs)-1].invoked = true
		if args := n.ChildByField("arguments"); args != nil {
			c.args = append(c.args, args)
		}
		return true
	case "conditional_access_expression":
		cond := n.ChildByField("condition")
		if cond == nil {
			cond = n.NamedChild(0)
		}
		binding := lastNamed(n)
		if binding == nil || binding.Type() != "member_binding_expression" {
			return false
		}
		name := binding.ChildByField("name")
		if name == nil {
			name = lastNamed(binding)
		}
		return c.collect(cond) && c.collect(name)
	}
	return false
}

// setType attaches a type push to def when typeNode names a type.
func (w *walker) setType(def int32, typeNode syntax.Node) {
	if def == None || typeNode == nil {
		return
	}
	path, abs, _ := declaredTypePath(typeNode)
	if len(path) == 0 {
		return
	}
	w.f.Nodes[def].TypeRef = w.push(path, PushType, "", abs, spanOf(typeNode))
}

// inferType gives a var-declared definition the type of its initializer
// when the initializer has a nameable shape.
func (w *walker) inferType(def int32, init syntax.Node) {
	if def == None || init == nil {
		return
	}
	switch init.Type() {
	case "object_creation_expression", "cast_expression", "array_creation_expression":
		w.setType(def, init.ChildByField("type"))
	case "identifier", "member_access_expression", "invocation_expression", "generic_name", "conditional_access_expression":
		c := &chain{}
		if !c.collect(init) {
			return
		}
		path := make([]string, len(c.segs))
		for i, s := range c.segs {
			path[i] = s.name
		}
		w.f.Nodes[def].TypeRef = w.push(path, PushInfer, "", c.absolute, spanOf(init))
	}
}

// ---------------------------------------------------------------------------
// Syntax helpers
// ---------------------------------------------------------------------------

// predefinedTypes maps C# keyword types to their framework type so that
// members of string or int resolve against dependency sources.
var predefinedTypes = map[string][]string{
	"string":  {"System", "String"},
	"object":  {"System", "Object"},
	"int":     {"System", "Int32"},
	"long":    {"System", "Int64"},
	"short":   {"System", "Int16"},
	"byte":    {"System", "Byte"},
	"bool":    {"System", "Boolean"},
	"char":    {"System", "Char"},
	"double":  {"System", "Double"},
	"float":   {"System", "Single"},
	"decimal": {"System", "Decimal"},
}

// typePath flattens a type name into its dotted path. typeArgs holds the
// generic arguments found along the way.
func typePath(n syntax.Node) (path []string, absolute bool, typeArgs []syntax.Node) {
	if n == nil {
		return nil, false, nil
	}
	switch n.Type() {
	case "identifier":
		return []string{identName(n)}, false, nil
	case "generic_name":
		id := firstOfType(n, "identifier")
		if id == nil {
			return nil, false, nil
		}
		return []string{identName(id)}, false, syntax.NamedChildren(firstOfType(n, "type_argument_list"))
	case "qualified_name":
		left, right := qualifiedParts(n)
		lp, abs, la := typePath(left)
		rp, _, ra := typePath(right)
		if len(lp) == 0 || len(rp) == 0 {
			return nil, false, append(la, ra...)
		}
		return append(lp, rp...), abs, append(la, ra...)
	case "alias_qualified_name":
		alias, name := aliasParts(n)
		rp, _, ra := typePath(name)
		if alias == nil || len(rp) == 0 {
			return nil, false, ra
		}
		if alias.Text() == "global" {
			return rp, true, ra
		}
		return append([]string{identName(alias)}, rp...), false, ra
	}
	return nil, false, nil
}

// declaredTypePath is typePath for a declared type, looking through
// nullable wrappers and keyword types. Arrays have no nameable members.
func declaredTypePath(n syntax.Node) ([]string, bool, []syntax.Node) {
	if n == nil {
		return nil, false, nil
	}
	switch n.Type() {
	case "nullable_type", "ref_type", "scoped_type":
		inner := n.ChildByField("type")
		if inner == nil {
			inner = n.NamedChild(0)
		}
		return declaredTypePath(inner)
	case "predefined_type":
		if p, ok := predefinedTypes[n.Text()]; ok {
			return append([]string{}, p...), true, nil
		}
		return nil, false, nil
	}
	if isVar(n) {
		return nil, false, nil
	}
	return typePath(n)
}

func qualifiedParts(n syntax.Node) (left, right syntax.Node) {
	left = n.ChildByField("qualifier")
	right = n.ChildByField("name")
	if left == nil {
		left = n.NamedChild(0)
	}
	if right == nil {
		right = lastNamed(n)
	}
	return left, right
}

func aliasParts(n syntax.Node) (alias, name syntax.Node) {
	alias = n.ChildByField("alias")
	name = n.ChildByField("name")
	if alias == nil {
		alias = n.NamedChild(0)
	}
	if name == nil {
		name = lastNamed(n)
	}
	return alias, name
}

func returnType(n syntax.Node) syntax.Node {
	if t := n.ChildByField("returns"); t != nil {
		return t
	}
	return n.ChildByField("type")
}

func initializerOf(declarator syntax.Node) syntax.Node {
	sawEquals := false
	for _, c := range syntax.Children(declarator) {
		switch {
		case c.Type() == "equals_value_clause":
			return c.NamedChild(0)
		case c.Type() == "=":
			sawEquals = true
		case sawEquals && c.IsNamed():
			return c
		}
	}
	return nil
}

func designationName(n syntax.Node) syntax.Node {
	if n == nil {
		return nil
	}
	if n.Type() == "identifier" {
		return n
	}
	if n.Type() == "single_variable_designation" {
		return firstOfType(n, "identifier")
	}
	return nil
}

func isVar(n syntax.Node) bool {
	if n == nil {
		return false
	}
	return n.Type() == "implicit_type" || (n.Type() == "identifier" && n.Text() == "var")
}

func firstOfType(n syntax.Node, typ string) syntax.Node {
	for _, c := range syntax.NamedChildren(n) {
		if c.Type() == typ {
			return c
		}
	}
	return nil
}

func lastNamed(n syntax.Node) syntax.Node {
	if n == nil || n.NamedChildCount() == 0 {
		return nil
	}
	return n.NamedChild(n.NamedChildCount() - 1)
}

func containsNode(list []syntax.Node, n syntax.Node) bool {
	for _, x := range list {
		if x != nil && x.Type() == n.Type() && x.Span() == n.Span() {
			return true
		}
	}
	return false
}

// identName strips the verbatim-identifier prefix.
func identName(n syntax.Node) string {
	return strings.TrimPrefix(n.Text(), "@")
}

func spanOf(n syntax.Node) Span {
	s := n.Span()
	return Span{
		StartLine: int(s.Start.Row),
		StartCol:  int(s.Start.Column),
		EndLine:   int(s.End.Row),
		EndCol:    int(s.End.Column),
	}
}

func joinFQN(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
