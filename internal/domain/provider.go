package domain

import (
	"context"
	"time"
)

// GenerateRequest is everything a generator needs to write one reply.
type GenerateRequest struct {
	Text    string
	History []Turn
	Profile Profile
}

// Generator produces reply text. Implementations may fail; callers that must
// not fail wrap them (see provider.Resilient).
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Name() string
}

type GenerationSource string

const (
	SourceGenerated GenerationSource = "generated"
	SourceFallback  GenerationSource = "fallback"
)

// GenerationResult always carries usable Text. Err holds the last upstream
// failure when Source is SourceFallback.
type GenerationResult struct {
	Text     string
	Source   GenerationSource
	Attempts int
	Latency  time.Duration
	Err      error
}

func (r GenerationResult) Fallback() bool { return r.Source == SourceFallback }
