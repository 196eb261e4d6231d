package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownModel    = errors.New("unknown model")
	ErrNotConfigured   = errors.New("provider not configured")
	ErrEmptyAnswer     = errors.New("provider returned an empty answer")
)

// Image is an inline picture attached to a query.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one generation call against a single backend model.
type Request struct {
	Model       string
	System      string
	History     []chat.Message
	Question    string
	Image       *Image
	Temperature *float32
	MaxTokens   int
}

// Answer is the generated reply.
type Answer struct {
	Text     string `json:"answer"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Provider is a language-model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Answer, error)
}

// Registry maps provider names to backends.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 注册一组 provider。
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register 注册或替换 provider。
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.providers[strings.ToLower(p.Name())] = p
	r.mu.Unlock()
}

// Get 按名称查找 provider。
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return p, nil
}

// Names 返回已注册的 provider 名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
