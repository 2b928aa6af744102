package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"
)

// referencedCondition is the external condition shape:
//
//	referenced:
//	  pattern: System.Web.Mvc.*
//	  location: METHOD
//	  file_paths: [Controllers/HomeController.cs]
type referencedCondition struct {
	Referenced *struct {
		Pattern   string   `yaml:"pattern"`
		Location  string   `yaml:"location"`
		FilePaths []string `yaml:"file_paths"`
	} `yaml:"referenced"`
}

// ParseCondition decodes a YAML (or JSON) condition into a Query.
func ParseCondition(capability, conditionInfo string) (Query, error) {
	var c referencedCondition
	if err := yaml.Unmarshal([]byte(conditionInfo), &c); err != nil {
		return Query{}, fmt.Errorf("%w: condition: %v", ErrInvalidQuery, err)
	}
	if c.Referenced == nil {
		return Query{}, fmt.Errorf("%w: condition has no referenced block", ErrInvalidQuery)
	}
	return Query{
		Capability: capability,
		Pattern:    c.Referenced.Pattern,
		Location:   Location(c.Referenced.Location),
		FilePaths:  c.Referenced.FilePaths,
	}, nil
}

// EvaluateCondition runs a condition end to end and returns every incident,
// deduplicated per line and sorted by file URI then line. An unknown
// capability or a missing snapshot yields an unsuccessful response rather
// than an error; malformed conditions and patterns return ErrInvalidQuery.
func (p *Provider) EvaluateCondition(ctx context.Context, capability, conditionInfo string) (*EvaluateResponse, error) {
	if capability != CapabilityReferenced {
		return &EvaluateResponse{Error: "unable to find referenced capability"}, nil
	}
	q, err := ParseCondition(capability, conditionInfo)
	if err != nil {
		return nil, err
	}
	seq, err := p.Evaluate(ctx, q)
	if errors.Is(err, ErrNotInitialized) {
		return &EvaluateResponse{Error: ErrNotInitialized.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	incidents := []MatchRecord{}
	for m, err := range seq {
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, m)
	}
	sort.SliceStable(incidents, func(i, j int) bool {
		if incidents[i].FileURI != incidents[j].FileURI {
			return incidents[i].FileURI < incidents[j].FileURI
		}
		return incidents[i].Location.Start.Line < incidents[j].Location.Start.Line
	})
	p.logger.Debug("condition evaluated",
		slog.String("pattern", q.Pattern),
		slog.String("location", string(q.Location)),
		slog.Int("incidents", len(incidents)))
	return &EvaluateResponse{
		Successful: true,
		Matched:    len(incidents) > 0,
		Incidents:  incidents,
	}, nil
}
