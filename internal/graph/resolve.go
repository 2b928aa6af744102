package graph

// maxDepth bounds nested resolution (type-of chains, base walks) so that
// cyclic or pathological inputs terminate.
const maxDepth = 32

// Resolver answers "what does this reference bind to" over one Graph.
// It memoizes per instance and is meant to live for a single query; it is
// not safe for concurrent use.
type Resolver struct {
	g     *Graph
	memo  map[Handle][]Handle
	busy  map[Handle]bool
	types map[Handle][]Handle
}

// NewResolver creates a Resolver over g.
func NewResolver(g *Graph) *Resolver {
	return &Resolver{
		g:     g,
		memo:  make(map[Handle][]Handle),
		busy:  make(map[Handle]bool),
		types: make(map[Handle][]Handle),
	}
}

// Resolve returns the definitions a reference or push node binds to.
// An empty result means unresolved, which is never an error: the target may
// live in a dependency that was not loaded.
func (r *Resolver) Resolve(h Handle) []Handle {
	if got, ok := r.memo[h]; ok {
		return got
	}
	if r.busy[h] {
		return nil
	}
	n := r.g.Node(h)
	if n == nil || len(n.Path) == 0 || (n.Kind != KindReference && n.Kind != KindPush) {
		return nil
	}
	r.busy[h] = true
	// Using directives do not see each other.
	imports := !(n.Kind == KindReference && n.Usage == UsageImport) &&
		!(n.Kind == KindPush && (n.Flavor == PushUsing || n.Flavor == PushUsingStatic || n.Flavor == PushAlias))
	start := r.g.files[h.File].starts[h.Node]
	out := r.resolvePath(h.File, start, n.Path, n.Absolute, imports, 0)
	delete(r.busy, h)
	r.memo[h] = out
	return out
}

func (r *Resolver) resolvePath(file, scope int32, path []string, absolute, imports bool, depth int) []Handle {
	if depth > maxDepth || scope == None {
		return nil
	}
	var cands []Handle
	switch {
	case absolute:
		cands = r.g.Members("", path[0])
	case path[0] == "this":
		cands = r.enclosingType(file, scope)
	case path[0] == "base":
		for _, t := range r.enclosingType(file, scope) {
			cands = append(cands, r.bases(r.g.Node(t).FQN, depth+1)...)
		}
	default:
		cands = r.lookup(file, scope, path[0], imports, depth)
	}
	for _, seg := range path[1:] {
		if len(cands) == 0 {
			return nil
		}
		cands = r.memberOf(cands, seg, depth+1)
	}
	return dedupe(cands)
}

// lookup finds the first segment of a path by walking outward from scope.
// At each level local bindings win over container members, which win over
// imports.
func (r *Resolver) lookup(file, scope int32, name string, imports bool, depth int) []Handle {
	idx := &r.g.files[file]
	nodes := r.g.frags[file].Nodes
	for s := scope; s != None; s = idx.parent[s] {
		if defs := idx.bindings[s][name]; len(defs) > 0 {
			out := make([]Handle, len(defs))
			for i, d := range defs {
				out[i] = Handle{File: file, Node: d}
			}
			return out
		}
		sn := &nodes[s]
		if sn.Member {
			parentFQN := ""
			if p := idx.parent[s]; p != None {
				parentFQN = nodes[p].FQN
			}
			if got := r.containerLookup(file, sn, parentFQN, name, depth); len(got) > 0 {
				return got
			}
		}
		if imports {
			if got := r.importLookup(file, s, name, depth); len(got) > 0 {
				return got
			}
		}
	}
	return nil
}

// containerLookup searches the members of the namespace or type a member
// scope declares. A dotted namespace (namespace A.B) also exposes the
// members of its implicit outer namespaces up to parentFQN.
func (r *Resolver) containerLookup(file int32, sn *Node, parentFQN, name string, depth int) []Handle {
	if sn.Owner != None {
		owner := &r.g.frags[file].Nodes[sn.Owner]
		if owner.Decl != DeclNamespace {
			if got := r.g.Members(sn.FQN, name); len(got) > 0 {
				return got
			}
			return r.inherited(sn.FQN, name, depth+1, map[string]bool{sn.FQN: true})
		}
	}
	fqn := sn.FQN
	for {
		if got := r.g.Members(fqn, name); len(got) > 0 {
			return got
		}
		if fqn == "" {
			return nil
		}
		fqn = parentOf(fqn)
		if fqn == parentFQN {
			return nil
		}
	}
}

func (r *Resolver) importLookup(file, scope int32, name string, depth int) []Handle {
	var out []Handle
	nodes := r.g.frags[file].Nodes
	for _, p := range r.g.files[file].imports[scope] {
		pn := &nodes[p]
		switch pn.Flavor {
		case PushAlias:
			if pn.Alias == name {
				out = append(out, r.Resolve(Handle{File: file, Node: p})...)
			}
		case PushUsing:
			for _, t := range r.Resolve(Handle{File: file, Node: p}) {
				tn := r.g.Node(t)
				if tn.Decl != DeclNamespace {
					continue
				}
				for _, m := range r.g.Members(tn.FQN, name) {
					if r.g.Node(m).Decl != DeclNamespace {
						out = append(out, m)
					}
				}
			}
		case PushUsingStatic:
			for _, t := range r.Resolve(Handle{File: file, Node: p}) {
				tn := r.g.Node(t)
				if !tn.Decl.IsMemberContainer() || tn.Decl == DeclNamespace {
					continue
				}
				got := r.g.Members(tn.FQN, name)
				if len(got) == 0 {
					got = r.inherited(tn.FQN, name, depth+1, map[string]bool{tn.FQN: true})
				}
				out = append(out, got...)
			}
		}
	}
	return dedupe(out)
}

// memberOf pops one more segment against each candidate.
func (r *Resolver) memberOf(cands []Handle, seg string, depth int) []Handle {
	if depth > maxDepth {
		return nil
	}
	var out []Handle
	for _, c := range cands {
		n := r.g.Node(c)
		switch {
		case n.Decl == DeclNamespace:
			out = append(out, r.g.Members(n.FQN, seg)...)
		case n.Decl.IsMemberContainer():
			got := r.g.Members(n.FQN, seg)
			if len(got) == 0 {
				got = r.inherited(n.FQN, seg, depth+1, map[string]bool{n.FQN: true})
			}
			out = append(out, got...)
		default:
			out = append(out, r.memberOf(r.typeOf(c, depth+1), seg, depth+1)...)
		}
	}
	return dedupe(out)
}

// inherited looks name up through the base types of typeFQN, nearest
// base first.
func (r *Resolver) inherited(typeFQN, name string, depth int, seen map[string]bool) []Handle {
	if depth > maxDepth {
		return nil
	}
	var out []Handle
	for _, b := range r.bases(typeFQN, depth) {
		fqn := r.g.Node(b).FQN
		if seen[fqn] {
			continue
		}
		seen[fqn] = true
		if got := r.g.Members(fqn, name); len(got) > 0 {
			out = append(out, got...)
			continue
		}
		out = append(out, r.inherited(fqn, name, depth+1, seen)...)
	}
	return out
}

// bases returns the type definitions listed as bases by any declaration
// of typeFQN, partial declarations included.
func (r *Resolver) bases(typeFQN string, depth int) []Handle {
	if depth > maxDepth {
		return nil
	}
	var out []Handle
	for _, body := range r.g.bodies[typeFQN] {
		nodes := r.g.frags[body.File].Nodes
		for _, p := range r.g.files[body.File].imports[body.Node] {
			if nodes[p].Flavor != PushBase {
				continue
			}
			for _, t := range r.Resolve(Handle{File: body.File, Node: p}) {
				if r.g.Node(t).Decl.IsMemberContainer() && r.g.Node(t).Decl != DeclNamespace {
					out = append(out, t)
				}
			}
		}
	}
	return dedupe(out)
}

// typeOf returns the type definitions a typed definition (field, property,
// variable, parameter, method return) evaluates to.
func (r *Resolver) typeOf(def Handle, depth int) []Handle {
	if got, ok := r.types[def]; ok {
		return got
	}
	if depth > maxDepth {
		return nil
	}
	n := r.g.Node(def)
	if n == nil || n.Kind != KindDefinition || n.TypeRef == None {
		return nil
	}
	r.types[def] = nil
	push := Handle{File: def.File, Node: n.TypeRef}
	var out []Handle
	for _, t := range r.Resolve(push) {
		tn := r.g.Node(t)
		switch {
		case tn.Decl.IsMemberContainer() && tn.Decl != DeclNamespace:
			out = append(out, t)
		case r.g.Node(push).Flavor == PushInfer && !tn.Decl.IsType() && tn.Decl != DeclNamespace:
			out = append(out, r.typeOf(t, depth+1)...)
		}
	}
	out = dedupe(out)
	r.types[def] = out
	return out
}

// enclosingType returns the type whose body lexically contains scope.
func (r *Resolver) enclosingType(file, scope int32) []Handle {
	idx := &r.g.files[file]
	nodes := r.g.frags[file].Nodes
	for s := scope; s != None; s = idx.parent[s] {
		sn := &nodes[s]
		if !sn.Member || sn.Owner == None {
			continue
		}
		if d := nodes[sn.Owner].Decl; d.IsMemberContainer() && d != DeclNamespace {
			return []Handle{{File: file, Node: sn.Owner}}
		}
	}
	return nil
}

func parentOf(fqn string) string {
	for i := len(fqn) - 1; i >= 0; i-- {
		if fqn[i] == '.' {
			return fqn[:i]
		}
	}
	return ""
}

func dedupe(hs []Handle) []Handle {
	if len(hs) < 2 {
		return hs
	}
	seen := make(map[Handle]bool, len(hs))
	out := hs[:0:0]
	for _, h := range hs {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
