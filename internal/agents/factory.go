package agents

import (
	"fmt"
	"sync"
	"time"
)

// Options configures every provider the factory can build
type Options struct {
	DefaultKind Kind
	Timeout     time.Duration

	OpenRouter   OpenRouterOptions
	Gemini       GeminiOptions
	Ollama       OllamaOptions
	DefaultModel map[Kind]string
}

// Factory builds providers lazily and reuses them across requests
type Factory struct {
	opts Options

	mu        sync.Mutex
	providers map[Kind]Provider
}

// NewFactory creates a factory from configuration
func NewFactory(opts Options) *Factory {
	if opts.DefaultKind == "" {
		opts.DefaultKind = KindOpenRouter
	}
	return &Factory{opts: opts, providers: make(map[Kind]Provider)}
}

// DefaultKind is the provider used when a request names none
func (f *Factory) DefaultKind() Kind { return f.opts.DefaultKind }

// DefaultModel is the model used when a request names none
func (f *Factory) DefaultModel(kind Kind) string {
	return f.opts.DefaultModel[kind]
}

// Provider returns the provider for kind, building it on first use
func (f *Factory) Provider(kind Kind) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[kind]; ok {
		return p, nil
	}

	p, err := f.build(kind)
	if err != nil {
		return nil, err
	}
	f.providers[kind] = p
	return p, nil
}

// Use installs a ready-made provider for its kind
func (f *Factory) Use(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.Kind()] = p
}

func (f *Factory) build(kind Kind) (Provider, error) {
	switch kind {
	case KindOpenRouter:
		opts := f.opts.OpenRouter
		if opts.Timeout == 0 {
			opts.Timeout = f.opts.Timeout
		}
		return NewOpenRouterClient(opts)
	case KindGemini:
		opts := f.opts.Gemini
		if opts.Timeout == 0 {
			opts.Timeout = f.opts.Timeout
		}
		return NewGeminiClient(opts)
	case KindOllama:
		opts := f.opts.Ollama
		if opts.Timeout == 0 {
			opts.Timeout = f.opts.Timeout
		}
		return NewOllamaClient(opts)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", kind)
	}
}
