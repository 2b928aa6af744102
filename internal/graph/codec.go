package graph

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// SchemaVersion is the on-disk fragment envelope version.
const SchemaVersion = 1

// ErrCorrupt is returned by Decode for blobs that cannot be trusted. Callers
// treat it as a cache miss.
var ErrCorrupt = errors.New("graph: corrupt fragment")

type envelope struct {
	Schema   int       `json:"schema"`
	Builder  string    `json:"builder"`
	Fragment *Fragment `json:"fragment"`
}

// Encode serializes a fragment as gzip-compressed JSON.
func Encode(f *Fragment) ([]byte, error) {
	data, err := json.Marshal(envelope{Schema: SchemaVersion, Builder: BuilderVersion, Fragment: f})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling fragment %s: %w", f.Path, err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("graph: compressing fragment %s: %w", f.Path, err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("graph: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode and validates the result. Any failure wraps
// ErrCorrupt.
func Decode(data []byte) (*Fragment, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing: %v", ErrCorrupt, err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: reading: %v", ErrCorrupt, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling: %v", ErrCorrupt, err)
	}
	if env.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: schema %d, want %d", ErrCorrupt, env.Schema, SchemaVersion)
	}
	if env.Builder != BuilderVersion {
		return nil, fmt.Errorf("%w: built by %q, want %q", ErrCorrupt, env.Builder, BuilderVersion)
	}
	if env.Fragment == nil {
		return nil, fmt.Errorf("%w: empty envelope", ErrCorrupt)
	}
	if err := env.Fragment.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return env.Fragment, nil
}

// Validate checks the structural invariants Merge relies on.
func (f *Fragment) Validate() error {
	n := int32(len(f.Nodes))
	if n == 0 || f.Nodes[Root].Kind != KindScope {
		return fmt.Errorf("fragment %s: missing root scope", f.Path)
	}
	inRange := func(i int32) bool { return i >= 0 && i < n }
	for i, node := range f.Nodes {
		if node.TypeRef != None && (!inRange(node.TypeRef) || f.Nodes[node.TypeRef].Kind != KindPush) {
			return fmt.Errorf("fragment %s: node %d has bad type ref %d", f.Path, i, node.TypeRef)
		}
		if node.Owner != None && (!inRange(node.Owner) || f.Nodes[node.Owner].Kind != KindDefinition) {
			return fmt.Errorf("fragment %s: node %d has bad owner %d", f.Path, i, node.Owner)
		}
	}
	for i, e := range f.Edges {
		if !inRange(e.From) || !inRange(e.To) {
			return fmt.Errorf("fragment %s: edge %d out of range", f.Path, i)
		}
		from, to := f.Nodes[e.From].Kind, f.Nodes[e.To].Kind
		ok := false
		switch e.Kind {
		case EdgeLexicalParent:
			ok = from == KindScope && to == KindScope
		case EdgeImport:
			ok = to == KindPush
		case EdgeDefinitionBinds:
			ok = from == KindScope && to == KindDefinition
		case EdgeReferenceStarts:
			ok = (from == KindReference || from == KindPush) && to == KindScope
		}
		if !ok {
			return fmt.Errorf("fragment %s: edge %d (%s) links %s to %s", f.Path, i, e.Kind, from, to)
		}
	}
	return nil
}
