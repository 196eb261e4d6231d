package ratelimit

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"
)

// Limit is the per-provider admission budget. Zero disables a window.
type Limit struct {
	PerMinute int
	PerHour   int
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Window     string
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Status 描述某个 provider 当前的窗口占用。
type Status struct {
	Provider    string `json:"provider"`
	MinuteUsed  int    `json:"minuteUsed"`
	MinuteLimit int    `json:"minuteLimit"`
	HourUsed    int    `json:"hourUsed"`
	HourLimit   int    `json:"hourLimit"`
}

// Limiter tracks two sliding windows (minute, hour) per provider. It is
// shared by every session; the lock only covers bookkeeping, never I/O.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]*providerWindows
	now     func() time.Time
}

type providerWindows struct {
	minute *window
	hour   *window
}

// New 创建限流器，limits 的 key 为 provider 名称。
func New(limits map[string]Limit) *Limiter {
	copied := make(map[string]Limit, len(limits))
	for name, limit := range limits {
		copied[name] = limit
	}
	return &Limiter{
		limits:  copied,
		windows: make(map[string]*providerWindows),
		now:     time.Now,
	}
}

// WithClock 替换时钟，仅用于测试。
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit checks both windows for provider and records the call when allowed.
// Unknown providers are not limited. Any internal fault admits the call.
func (l *Limiter) Admit(provider string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ratelimit] bookkeeping fault for %s, admitting: %v", provider, r)
			d = Decision{Allowed: true}
		}
	}()

	limit, ok := l.limits[provider]
	if !ok {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// 持锁取时间，保证窗口内时间戳有序
	now := l.now()

	pw := l.windowsFor(provider, limit)
	denied := Decision{Allowed: true}
	for _, w := range []*window{pw.minute, pw.hour} {
		w.prune(now)
		if w.limit <= 0 || w.len() < w.limit {
			continue
		}
		wait := w.oldest().Add(w.span).Sub(now)
		if denied.Allowed || wait > denied.RetryAfter {
			denied = Decision{Allowed: false, RetryAfter: wait, Window: w.name}
		}
	}
	if !denied.Allowed {
		return denied
	}

	pw.minute.push(now)
	pw.hour.push(now)
	return Decision{Allowed: true}
}

// Status returns usage for every configured provider, sorted by name.
func (l *Limiter) Status() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	out := make([]Status, 0, len(l.limits))
	for name, limit := range l.limits {
		pw := l.windowsFor(name, limit)
		pw.minute.prune(now)
		pw.hour.prune(now)
		out = append(out, Status{
			Provider:    name,
			MinuteUsed:  pw.minute.len(),
			MinuteLimit: limit.PerMinute,
			HourUsed:    pw.hour.len(),
			HourLimit:   limit.PerHour,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Reset 清空某个 provider 的计数。
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	delete(l.windows, provider)
	l.mu.Unlock()
}

func (l *Limiter) windowsFor(provider string, limit Limit) *providerWindows {
	pw, ok := l.windows[provider]
	if !ok {
		pw = &providerWindows{
			minute: &window{name: "minute", span: time.Minute, limit: limit.PerMinute},
			hour:   &window{name: "hour", span: time.Hour, limit: limit.PerHour},
		}
		l.windows[provider] = pw
	}
	return pw
}

// window is a time-ordered queue. Expired entries are dropped from the head
// by advancing an index; the backing slice is compacted once the dead prefix
// dominates, keeping append and eviction amortized O(1).
type window struct {
	name   string
	span   time.Duration
	limit  int
	stamps []time.Time
	head   int
}

func (w *window) len() int { return len(w.stamps) - w.head }

func (w *window) oldest() time.Time { return w.stamps[w.head] }

func (w *window) push(t time.Time) { w.stamps = append(w.stamps, t) }

func (w *window) prune(now time.Time) {
	for w.head < len(w.stamps) && now.Sub(w.stamps[w.head]) >= w.span {
		w.head++
	}
	if w.head == len(w.stamps) {
		w.stamps = w.stamps[:0]
		w.head = 0
		return
	}
	if w.head > 32 && w.head*2 > len(w.stamps) {
		n := copy(w.stamps, w.stamps[w.head:])
		w.stamps = w.stamps[:n]
		w.head = 0
	}
}
