package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"companion/internal/config"
	"companion/internal/domain"
)

// ErrUnavailable is returned by the generator used when no provider is
// configured. Every reply then degrades to the fallback text.
var ErrUnavailable = errors.New("no text generator configured")

// GeneratorConstructor creates a generator from a config entry.
type GeneratorConstructor func(pc config.ProviderConfig, deps Deps) domain.Generator

// Deps are the shared dependencies handed to constructors.
type Deps struct {
	HTTPClient  *http.Client
	Temperature float64
	Logger      *slog.Logger
}

// Factory creates and caches generators from config.
type Factory struct {
	cfg          *config.Config
	deps         Deps
	constructors map[string]GeneratorConstructor
	cache        map[string]domain.Generator
	mu           sync.RWMutex
}

// NewFactory creates a generator factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg: cfg,
		deps: Deps{
			HTTPClient:  SharedHTTPClient(cfg.Generation.Timeout()),
			Temperature: cfg.Generation.Temperature,
			Logger:      logger,
		},
		constructors: make(map[string]GeneratorConstructor),
		cache:        make(map[string]domain.Generator),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a generator constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor GeneratorConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
	delete(f.cache, name)
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, deps Deps) domain.Generator {
		return NewOpenAI(OpenAIConfig{
			APIKey:      pc.APIKey,
			APIBase:     pc.APIBase,
			Model:       pc.DefaultModel,
			Temperature: deps.Temperature,
			HTTPClient:  deps.HTTPClient,
			Logger:      deps.Logger,
		})
	}
}

// Get returns the generator with the given name, or the default if name is empty.
// Uses double-check locking so concurrent callers share one instance.
func (f *Factory) Get(name string) (domain.Generator, error) {
	if name == "" {
		name = f.cfg.Generation.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("provider %s: no API key configured", name)
	}

	ctor, found := f.constructors[name]

	var g domain.Generator
	switch {
	case found:
		g = ctor(pc, f.deps)
	case pc.APIBase != "":
		// Unknown providers are treated as OpenAI-compatible endpoints.
		g = f.constructors["openai"](pc, f.deps)
		g = named{Generator: g, name: name}
	default:
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = g
	return g, nil
}

// Generator returns what the relay should call: the failover chain when one
// is configured, otherwise the default provider. It never returns nil; when
// nothing usable is configured the result always errors, so replies fall back.
func (f *Factory) Generator() domain.Generator {
	chain := f.cfg.Generation.FailoverChain
	if len(chain) == 0 {
		g, err := f.Get("")
		if err != nil {
			f.deps.Logger.Warn("text generation unavailable, replies will use the fallback", "error", err)
			return unavailable{reason: err}
		}
		return g
	}

	gens := make([]domain.Generator, 0, len(chain))
	for _, name := range chain {
		g, err := f.Get(name)
		if err != nil {
			f.deps.Logger.Warn("skipping provider in failover chain", "provider", name, "error", err)
			continue
		}
		gens = append(gens, g)
	}
	switch len(gens) {
	case 0:
		f.deps.Logger.Warn("no provider in failover chain is usable, replies will use the fallback")
		return unavailable{}
	case 1:
		return gens[0]
	}
	return NewFailover(gens, f.deps.Logger)
}

type named struct {
	domain.Generator
	name string
}

func (n named) Name() string { return n.name }

type unavailable struct {
	reason error
}

func (unavailable) Name() string { return "unavailable" }

func (u unavailable) Generate(context.Context, domain.GenerateRequest) (string, error) {
	if u.reason != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, u.reason)
	}
	return "", ErrUnavailable
}
