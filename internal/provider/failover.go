package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"companion/internal/domain"
)

// Failover tries multiple generators in order, falling back to the next one
// when the current fails.
type Failover struct {
	generators []domain.Generator
	logger     *slog.Logger
}

// NewFailover creates a failover chain from the given generators.
func NewFailover(generators []domain.Generator, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{generators: generators, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.generators))
	for i, g := range f.generators {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Generate returns the first successful reply of the chain.
func (f *Failover) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if len(f.generators) == 0 {
		return "", errors.New("failover chain is empty")
	}
	var lastErr error
	for i, g := range f.generators {
		text, err := g.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback generator", "generator", g.Name(), "attempt", i+1)
			}
			return text, nil
		}
		lastErr = err
		f.logger.Warn("failover: generator failed, trying next",
			"generator", g.Name(),
			"attempt", i+1,
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("all generators in failover chain failed: %w", lastErr)
}
