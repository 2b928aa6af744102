package provider

import (
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/config"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/incremental"
	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/query"
)

// Public aliases for internal types used in the Provider API. Aliases are
// identical to the internal types; no conversion is needed.

type Query = query.Query
type MatchRecord = query.Match
type Position = query.Position
type Range = query.Range
type Location = query.Location
type Stats = incremental.Stats
type Diagnostic = incremental.Diagnostic
type DiagnosticKind = incremental.DiagnosticKind

const (
	LocationAll    = query.LocationAll
	LocationMethod = query.LocationMethod
	LocationField  = query.LocationField
	LocationClass  = query.LocationClass
)

// Analysis modes.
const (
	ModeSourceOnly = config.ModeSourceOnly
	ModeFull       = config.ModeFull
)

// CapabilityReferenced finds references whose target matches a pattern.
const CapabilityReferenced = query.CapabilityReferenced

// Capability describes one query capability.
type Capability struct {
	Name string `json:"name" yaml:"name"`
}

// InitRequest is the input of Init.
type InitRequest struct {
	// Location is the project root.
	Location string `json:"location" yaml:"location"`
	// AnalysisMode is ModeSourceOnly (default) or ModeFull.
	AnalysisMode string `json:"analysis_mode" yaml:"analysis_mode"`
	// ProviderConfig is decoded onto the provider's config.Config.
	ProviderConfig map[string]any `json:"provider_config,omitempty" yaml:"provider_config,omitempty"`
}

// InitResult summarises a successful Init.
type InitResult struct {
	Files int `json:"files"`
	Stats
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// EvaluateResponse is the drained, sorted result of EvaluateCondition.
type EvaluateResponse struct {
	Successful bool          `json:"successful" yaml:"successful"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Matched    bool          `json:"matched" yaml:"matched"`
	Incidents  []MatchRecord `json:"incidents" yaml:"incidents"`
}
