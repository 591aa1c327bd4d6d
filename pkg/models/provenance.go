// Package models contains domain types for ekaya-suggest.
package models

import (
	"context"
	"errors"
)

// ProvenanceSource represents how a reviewer action reached the service.
type ProvenanceSource string

const (
	SourceManual ProvenanceSource = "manual" // review UI over HTTP
	SourceMCP    ProvenanceSource = "mcp"    // MCP tool call
)

// String returns the string representation of a ProvenanceSource.
func (s ProvenanceSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a valid provenance source.
func (s ProvenanceSource) IsValid() bool {
	return s == SourceManual || s == SourceMCP
}

// ErrNoProvenance is returned when an attributed action runs without provenance.
var ErrNoProvenance = errors.New("provenance context required")

// ProvenanceContext carries who performed an action and how.
// Decisions, editor applications, and rollbacks are attributed to UserID.
type ProvenanceContext struct {
	Source ProvenanceSource
	// UserID is the JWT subject.
	UserID string
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p ProvenanceContext) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
func GetProvenance(ctx context.Context) (ProvenanceContext, bool) {
	p, ok := ctx.Value(provenanceKey{}).(ProvenanceContext)
	return p, ok
}

// RequireProvenance returns the provenance in ctx or ErrNoProvenance if absent or anonymous.
func RequireProvenance(ctx context.Context) (ProvenanceContext, error) {
	p, ok := GetProvenance(ctx)
	if !ok || p.UserID == "" {
		return ProvenanceContext{}, ErrNoProvenance
	}
	return p, nil
}

// WithManualProvenance returns a context with manual (UI) provenance set.
func WithManualProvenance(ctx context.Context, userID string) context.Context {
	return WithProvenance(ctx, ProvenanceContext{Source: SourceManual, UserID: userID})
}

// WithMCPProvenance returns a context with MCP provenance set.
func WithMCPProvenance(ctx context.Context, userID string) context.Context {
	return WithProvenance(ctx, ProvenanceContext{Source: SourceMCP, UserID: userID})
}
