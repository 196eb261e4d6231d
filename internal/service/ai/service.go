package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
	"github.com/zhouzirui/wieesion/backend/internal/model/persona"
	"github.com/zhouzirui/wieesion/backend/internal/service/cache"
	"github.com/zhouzirui/wieesion/backend/internal/service/ratelimit"
)

// DefaultSystemPrompt is used when no persona is selected.
const DefaultSystemPrompt = persona.DefaultPrompt

// RateLimitError means admission was denied for the provider.
type RateLimitError struct {
	Provider   string
	Window     string
	RetryAfter time.Duration
	seconds    int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s window), retry after %ds", e.Provider, e.Window, e.seconds)
}

// RetryAfterSeconds 返回向上取整的等待秒数。
func (e *RateLimitError) RetryAfterSeconds() int { return e.seconds }

// Observer receives answer-path measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveAnswer(provider, model, outcome string, elapsed time.Duration)
	ObserveCache(hit bool)
	ObserveRateLimited(provider string)
}

// Query 是一次经过路由后的问答请求。
type Query struct {
	Provider string
	Model    string
	// Persona 是缓存键的一部分，空值按 "default" 处理。
	Persona  string
	System   string
	History  []chat.Message
	Question string
	Image    *Image
}

// Result is an answer plus whether it came from the cache.
type Result struct {
	Answer
	Cached bool
}

// Options 配置 Service 的共享依赖，均可为空。
type Options struct {
	Limiter  *ratelimit.Limiter
	Cache    *cache.Cache
	Retry    RetryPolicy
	Observer Observer
}

// Service runs the answer path: admission, cache lookup, backend call with
// retry and cache population. It holds no per-session state.
type Service struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	retry    RetryPolicy
	observer Observer
}

// NewService 创建问答服务。
func NewService(registry *Registry, opts Options) *Service {
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Service{
		registry: registry,
		limiter:  opts.Limiter,
		cache:    opts.Cache,
		retry:    opts.Retry,
		observer: opts.Observer,
	}
}

// Answer executes q against its provider. Errors are *RateLimitError or *Error.
func (s *Service) Answer(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()

	if err := s.Admit(q.Provider); err != nil {
		return nil, err
	}

	cacheable := s.cache != nil && cache.IsCacheable(q.Question, q.Image != nil)
	if cacheable {
		value, hit := s.cache.Get(ctx, q.Question, q.Provider, q.Model, q.Persona)
		if s.observer != nil {
			s.observer.ObserveCache(hit)
		}
		if hit {
			s.observe(q, "cached", start)
			return &Result{Answer: Answer{Text: string(value), Provider: q.Provider, Model: q.Model}, Cached: true}, nil
		}
	}

	answer, err := s.Generate(ctx, q.Provider, &Request{
		Model:    q.Model,
		System:   q.System,
		History:  q.History,
		Question: q.Question,
		Image:    q.Image,
	})
	if err != nil {
		s.observe(q, "error", start)
		return nil, err
	}

	if cacheable {
		s.cache.Put(ctx, q.Question, []byte(answer.Text), q.Provider, q.Model, q.Persona, 0)
	}
	s.observe(q, "ok", start)
	return &Result{Answer: *answer}, nil
}

// Admit consults the rate limiter for provider and returns a *RateLimitError
// when the call must wait.
func (s *Service) Admit(provider string) error {
	if s.limiter == nil {
		return nil
	}
	d := s.limiter.Admit(provider)
	if d.Allowed {
		return nil
	}
	if s.observer != nil {
		s.observer.ObserveRateLimited(provider)
	}
	return &RateLimitError{Provider: provider, Window: d.Window, RetryAfter: d.RetryAfter, seconds: d.RetryAfterSeconds()}
}

// Generate calls the named provider with retry, bypassing admission and cache.
func (s *Service) Generate(ctx context.Context, provider string, req *Request) (*Answer, error) {
	p, err := s.registry.Get(provider)
	if err != nil {
		return nil, Classify(provider, req.Model, err)
	}
	answer, err := generateWithRetry(ctx, s.retry, p, req)
	if err != nil {
		log.Printf("[ai] %s/%s failed: %v", provider, req.Model, err)
		return nil, err
	}
	if answer.Provider == "" {
		answer.Provider = p.Name()
	}
	if answer.Model == "" {
		answer.Model = req.Model
	}
	return answer, nil
}

func (s *Service) observe(q Query, outcome string, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveAnswer(q.Provider, q.Model, outcome, time.Since(start))
	}
}
