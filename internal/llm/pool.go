package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Pool is a credential slot pool: len(keys) * perKeyConcurrency slots,
// each slot carrying one key. Call acquires a slot per attempt (acquire
// blocks until one is free) and releases the exact key it acquired after
// that attempt, on every exit path.
//
// Each key additionally carries a token-bucket limiter so a burst of
// freed slots for one key can't exceed that key's own rate ceiling even
// when the concurrency slot count alone would allow it.
type Pool struct {
	slots    chan string
	limiters map[string]*rate.Limiter
	client   *Client
	model    string
	maxTokens int
	log      *slog.Logger
}

// PoolConfig configures the credential pool.
type PoolConfig struct {
	Keys               []string // "" entries are valid: unauthenticated local proxy
	PerKeyConcurrency  int
	PerKeyRPS          float64 // 0 disables the limiter (unlimited)
	Model              string
	MaxTokens          int
}

func NewPool(client *Client, cfg PoolConfig, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	keys := cfg.Keys
	if len(keys) == 0 {
		keys = []string{""}
	}
	perKey := cfg.PerKeyConcurrency
	if perKey <= 0 {
		perKey = 3
	}

	p := &Pool{
		slots:     make(chan string, len(keys)*perKey),
		limiters:  make(map[string]*rate.Limiter),
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		log:       log,
	}
	for _, key := range keys {
		if cfg.PerKeyRPS > 0 {
			p.limiters[key] = rate.NewLimiter(rate.Limit(cfg.PerKeyRPS), perKey)
		}
		for i := 0; i < perKey; i++ {
			p.slots <- key
		}
	}
	log.Info("llm credential pool built", "keys", len(keys), "per_key_concurrency", perKey, "total_slots", len(keys)*perKey)
	return p
}

// acquire blocks for a free slot and returns the key it carries.
func (p *Pool) acquire(ctx context.Context) (string, error) {
	select {
	case key := <-p.slots:
		return key, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// release returns key's slot to the pool. Must be called exactly once per
// successful acquire, regardless of call outcome.
func (p *Pool) release(key string) {
	p.slots <- key
}

// Call runs one chat-completions request through the pool: acquire a key
// slot, wait out that key's rate limiter, call, release. Retries up to 2
// additional attempts on 429/5xx with exponential backoff, re-acquiring a
// (possibly different) key each attempt; any other 4xx fails immediately.
func (p *Pool) Call(ctx context.Context, system, content string) (string, error) {
	const maxRetries = 2
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		key, err := p.acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("llm: acquire slot: %w", err)
		}

		if limiter, ok := p.limiters[key]; ok {
			if err := limiter.Wait(ctx); err != nil {
				p.release(key)
				return "", fmt.Errorf("llm: rate limiter wait: %w", err)
			}
		}

		reply, callErr := p.client.Complete(ctx, key, ChatRequest{
			Model:       p.model,
			MaxTokens:   p.maxTokens,
			Temperature: 0.3,
			Messages: []ChatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: content},
			},
		})
		p.release(key)

		if callErr == nil {
			return reply, nil
		}
		lastErr = callErr

		var httpErr *HTTPError
		if e, ok := callErr.(*HTTPError); ok {
			httpErr = e
		}
		if httpErr != nil && httpErr.Status >= 400 && httpErr.Status < 500 && httpErr.Status != 429 {
			return "", fmt.Errorf("llm: request rejected: %w", callErr)
		}

		p.log.Warn("llm call failed, may retry", "attempt", attempt+1, "error", callErr)
		if attempt < maxRetries {
			wait := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("llm: exhausted retries: %w", lastErr)
}
