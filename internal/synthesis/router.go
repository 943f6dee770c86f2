package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"botforge/internal/apperr"
	"botforge/internal/config"
	"botforge/internal/logging"
	"botforge/internal/metrics"
)

// RouterConfig configures rate limiting and deadlines
type RouterConfig struct {
	RatePerMinute int
	Timeout       time.Duration
}

// Router sends each request to the first provider that is within its rate
// limit and answers without error. It implements Client.
type Router struct {
	clients  []Client
	limiters map[Provider]*rate.Limiter
	timeout  time.Duration

	usageMu sync.RWMutex
	usage   map[Provider]*ProviderUsage
}

// NewRouter creates a router over clients in fallback order
func NewRouter(cfg RouterConfig, clients ...Client) *Router {
	r := &Router{
		clients:  clients,
		limiters: make(map[Provider]*rate.Limiter),
		timeout:  cfg.Timeout,
		usage:    make(map[Provider]*ProviderUsage),
	}
	for _, c := range clients {
		if cfg.RatePerMinute > 0 {
			r.limiters[c.Provider()] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
		}
		r.usage[c.Provider()] = &ProviderUsage{Provider: c.Provider()}
	}
	return r
}

// NewFromConfig builds the configured primary provider followed by any other
// provider the configuration makes reachable.
func NewFromConfig(cfg *config.Config) *Router {
	ollama := NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
	var clients []Client
	hasOpenAI := cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != ""

	if cfg.SynthesisProvider == config.ProviderOpenAI {
		clients = append(clients, NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), ollama)
	} else {
		clients = append(clients, ollama)
		if hasOpenAI {
			clients = append(clients, NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
		}
	}

	return NewRouter(RouterConfig{
		RatePerMinute: cfg.SynthesisRatePerMin,
		Timeout:       cfg.SynthesisTimeout,
	}, clients...)
}

func (r *Router) primary() Client {
	if len(r.clients) == 0 {
		return nil
	}
	return r.clients[0]
}

func (r *Router) Provider() Provider {
	if p := r.primary(); p != nil {
		return p.Provider()
	}
	return ""
}

func (r *Router) Model() string {
	if p := r.primary(); p != nil {
		return p.Model()
	}
	return ""
}

func (r *Router) Endpoint() string {
	if p := r.primary(); p != nil {
		return p.Endpoint()
	}
	return ""
}

// Complete routes a request through the providers in order. A provider error
// moves on to the next provider; a fired deadline stops immediately with a
// Timeout error. When every provider fails the error is SynthesisUnavailable.
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	const op = "synthesis.complete"
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if len(r.clients) == 0 {
		return nil, apperr.Errorf(apperr.SynthesisUnavailable, op, "no synthesis provider configured")
	}

	m := metrics.Get()
	var lastErr error
	var prev Provider

	for _, client := range r.clients {
		provider := client.Provider()
		if prev != "" {
			m.RecordFallback(string(prev), string(provider))
			logging.L().Warn("falling back to next synthesis provider",
				zap.String("from", string(prev)),
				zap.String("to", string(provider)),
				zap.String("request_id", req.ID))
		}
		prev = provider

		if lim, ok := r.limiters[provider]; ok && !lim.Allow() {
			lastErr = fmt.Errorf("rate limit exceeded for %s", provider)
			m.RecordSynthesis(string(provider), "rate_limited", 0, 0, 0)
			continue
		}

		resp, err := r.call(ctx, client, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.New(apperr.Timeout, op, err)
		}
	}

	return nil, apperr.New(apperr.SynthesisUnavailable, op, lastErr)
}

func (r *Router) call(ctx context.Context, client Client, req *Request) (*Response, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Complete(callCtx, req)
	duration := time.Since(start)

	provider := string(client.Provider())
	if err != nil {
		if callCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		metrics.Get().RecordSynthesis(provider, "error", duration, 0, 0)
		r.updateUsage(client.Provider(), 0, duration, true)
		logging.L().Warn("synthesis call failed",
			zap.String("provider", provider),
			zap.String("request_id", req.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}

	var promptTokens, completionTokens, total int
	if resp.Usage != nil {
		promptTokens, completionTokens, total = resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens
	}
	metrics.Get().RecordSynthesis(provider, "success", duration, promptTokens, completionTokens)
	r.updateUsage(client.Provider(), total, duration, false)
	return resp, nil
}

func (r *Router) updateUsage(p Provider, tokens int, latency time.Duration, failed bool) {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()

	u, ok := r.usage[p]
	if !ok {
		u = &ProviderUsage{Provider: p}
		r.usage[p] = u
	}
	u.RequestCount++
	if failed {
		u.ErrorCount++
	}
	u.TotalTokens += int64(tokens)
	u.LastUsed = time.Now()
	if u.RequestCount == 1 {
		u.AvgLatency = latency
	} else {
		u.AvgLatency = (u.AvgLatency*time.Duration(u.RequestCount-1) + latency) / time.Duration(u.RequestCount)
	}
}

// Usage returns a snapshot of per-provider usage
func (r *Router) Usage() map[Provider]ProviderUsage {
	r.usageMu.RLock()
	defer r.usageMu.RUnlock()

	out := make(map[Provider]ProviderUsage, len(r.usage))
	for k, v := range r.usage {
		out[k] = *v
	}
	return out
}

// Health reports the primary provider's health
func (r *Router) Health(ctx context.Context) error {
	p := r.primary()
	if p == nil {
		return errors.New("no synthesis provider configured")
	}
	return p.Health(ctx)
}
