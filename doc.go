// Package provider answers structural queries over a C# codebase: where is
// a symbol referenced, and in what kind of syntactic context.
//
// # Pipeline
//
// Initialisation runs four stages:
//
//  1. Load: enumerate the project's .cs files (and, in full analysis mode,
//     decompiled dependency sources) and fingerprint their content.
//
//  2. Build: parse each new or changed file with tree-sitter and emit a
//     self-contained graph fragment of scopes, definitions, references and
//     symbol-stack push nodes.
//
//  3. Persist: store fragments keyed by path and fingerprint so a restart
//     only rebuilds what changed.
//
//  4. Merge: union all fragments into an immutable resolution graph that
//     serves queries until the next Init.
//
// # Usage
//
//	p, err := provider.New(".csharp-provider/cache.db")
//	if err != nil { ... }
//	defer p.Close()
//
//	res, err := p.Init(ctx, provider.InitRequest{Location: "path/to/project"})
//	matches, err := p.Evaluate(ctx, provider.Query{
//		Pattern:  `^System\.Web\.Mvc\..*`,
//		Location: provider.LocationClass,
//	})
//	for m, err := range matches { ... }
//
// # Resolution
//
// Resolution is lexical and structural only. A reference binds to every
// definition its symbol stack can reach through enclosing scopes, using
// directives, namespace and type membership (partial types and namespaces
// split across files included) and base lists. Nothing is type-checked:
// overloads are all returned and a reference into a dependency that was not
// loaded is simply unresolved.
//
// # Concurrency
//
// Queries read an immutable snapshot and may run concurrently with each
// other and with Init. Init calls are serialised; a second Init while one is
// running fails with [ErrBusy].
package provider
