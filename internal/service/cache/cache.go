package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTTL 是回答缓存的默认有效期。
const DefaultTTL = time.Hour

// ErrCacheMiss 表示存储中没有该 key。
var ErrCacheMiss = errors.New("cache miss")

// Entry is one cached answer. It is never modified after being stored.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the backing key/value store.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
}

// Cache is the process-wide content-addressed answer cache. Store failures
// are logged and reported as misses.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// New 创建缓存，ttl <= 0 时使用 DefaultTTL。
func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// WithClock 替换时钟，仅用于测试。
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Key hashes the normalized question with provider, model and persona.
func Key(question, provider, model, persona string) string {
	if strings.TrimSpace(persona) == "" {
		persona = "default"
	}
	raw := normalize(question) + "|" + provider + "|" + model + "|" + persona
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func normalize(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

var (
	timeSensitive = regexp.MustCompile(`\b(today|tonight|now|current|currently|latest|recent|recently|yesterday|tomorrow|this (week|month|year)|last (week|month|year)|right now)\b`)
	explicitYear  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// IsCacheable reports whether an answer to question may be cached: no
// image, 10 to 1000 characters, and no time-sensitive wording.
func IsCacheable(question string, hasImage bool) bool {
	if hasImage {
		return false
	}
	q := normalize(question)
	n := utf8.RuneCountInString(q)
	if n < 10 || n > 1000 {
		return false
	}
	return !timeSensitive.MatchString(q) && !explicitYear.MatchString(q)
}

// Get returns the cached value, treating expired entries as misses.
func (c *Cache) Get(ctx context.Context, question, provider, model, persona string) ([]byte, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	key := Key(question, provider, model, persona)
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("[cache] get %s failed, treating as miss: %v", key[:12], err)
		}
		return nil, false
	}
	if entry == nil || c.now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Value, true
}

// Put stores value under the content key; ttl <= 0 uses the cache default.
func (c *Cache) Put(ctx context.Context, question string, value []byte, provider, model, persona string, ttl time.Duration) {
	if c == nil || c.store == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	entry := &Entry{
		Key:       Key(question, provider, model, persona),
		Value:     append([]byte(nil), value...),
		Provider:  provider,
		Model:     model,
		ExpiresAt: c.now().Add(ttl),
	}
	if err := c.store.Set(ctx, entry); err != nil {
		log.Printf("[cache] set %s failed: %v", entry.Key[:12], err)
	}
}
