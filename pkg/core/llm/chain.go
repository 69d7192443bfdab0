package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
)

// ErrNoProviders is returned when no provider is registered.
var ErrNoProviders = errors.New("llm: no providers configured")

// DefaultTimeout bounds a single provider attempt.
const DefaultTimeout = 30 * time.Second

// Observer receives the outcome of every provider attempt.
type Observer func(provider, status string, elapsed time.Duration)

// ChainConfig configures a Chain.
type ChainConfig struct {
	Registry *Registry

	// Primary and Fallback are tried first, in that order. Remaining
	// registered providers follow in name order.
	Primary  string
	Fallback string

	// Models maps a provider name to the model it is asked for.
	Models map[string]string

	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// Chain sends a request to the first provider that answers.
type Chain struct {
	registry *Registry
	primary  string
	fallback string
	models   map[string]string
	timeout  time.Duration
	logger   *slog.Logger
	observe  Observer
}

// NewChain creates a Chain.
func NewChain(cfg ChainConfig) *Chain {
	c := &Chain{
		registry: cfg.Registry,
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		models:   cfg.Models,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		observe:  cfg.Observer,
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.models == nil {
		c.models = map[string]string{}
	}
	return c
}

// Providers returns the attempt order when prefer is the session override.
func (c *Chain) Providers(prefer string) []string {
	var order []string
	seen := map[string]struct{}{}
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		if _, ok := c.registry.Get(name); !ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	add(prefer)
	add(c.primary)
	add(c.fallback)
	for _, name := range c.registry.Names() {
		add(name)
	}
	return order
}

// Has reports whether name is a registered provider.
func (c *Chain) Has(name string) bool {
	_, ok := c.registry.Get(name)
	return ok
}

// CreateMessage tries each provider in order until one succeeds. A request
// model in "provider/model" form pins that provider as the first attempt.
// A rejected request stops the chain early. When every attempt fails the
// returned error joins all attempt errors.
func (c *Chain) CreateMessage(ctx context.Context, req *types.MessageRequest, prefer string) (*types.MessageResponse, error) {
	pinnedModel := ""
	if req.Model != "" {
		provider, model, err := core.ParseModelString(req.Model)
		if err != nil {
			return nil, err
		}
		prefer, pinnedModel = provider, model
	}

	order := c.Providers(prefer)
	if len(order) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		p, _ := c.registry.Get(name)

		attempt := *req
		attempt.Model = c.models[name]
		if name == prefer && pinnedModel != "" {
			attempt.Model = pinnedModel
		}

		resp, err := c.try(ctx, p, &attempt)
		if err == nil {
			return resp, nil
		}
		c.logger.Warn("llm provider failed", "provider", name, "model", attempt.Model, "error", err)
		errs = append(errs, err)

		var coreErr *core.Error
		if errors.As(err, &coreErr) && !coreErr.IsRetryable() {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (c *Chain) try(ctx context.Context, p Provider, req *types.MessageRequest) (*types.MessageResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.CreateMessage(attemptCtx, req)
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case err == nil && resp == nil:
		err = core.NewProviderError(p.Name(), errors.New("empty response"))
		status = "error"
	case err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		err = core.NewTimeoutError(p.Name(), err)
		status = "timeout"
	case err != nil:
		var coreErr *core.Error
		if !errors.As(err, &coreErr) {
			err = core.NewProviderError(p.Name(), err)
		}
		status = "error"
	}
	if c.observe != nil {
		c.observe(p.Name(), status, elapsed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	return resp, nil
}
