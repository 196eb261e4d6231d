package session

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/wieesion/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
	"github.com/zhouzirui/wieesion/backend/internal/service/auth"
	"github.com/zhouzirui/wieesion/backend/internal/service/cache"
	chatservice "github.com/zhouzirui/wieesion/backend/internal/service/chat"
	"github.com/zhouzirui/wieesion/backend/internal/service/document"
	"github.com/zhouzirui/wieesion/backend/internal/service/ratelimit"
	"github.com/zhouzirui/wieesion/backend/internal/service/routing"
	"github.com/zhouzirui/wieesion/backend/internal/service/speech"
)

const waitTimeout = 2 * time.Second

type stubProvider struct {
	name string
	err  error
	gate chan struct{}

	mu   sync.Mutex
	reqs []*ai.Request
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Generate(ctx context.Context, req *ai.Request) (*ai.Answer, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Answer{Text: "answer to " + req.Question, Provider: p.name, Model: req.Model}, nil
}

func (p *stubProvider) requests() []*ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ai.Request(nil), p.reqs...)
}

type fakePipeline struct {
	ready   chan struct{}
	results chan speech.Result

	mu     sync.Mutex
	chunks []string
	finals []bool
	closed bool
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{ready: make(chan struct{}), results: make(chan speech.Result, 4)}
}

func (p *fakePipeline) Ready() <-chan struct{}         { return p.ready }
func (p *fakePipeline) Results() <-chan speech.Result { return p.results }

func (p *fakePipeline) Send(chunk []byte, final bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, string(chunk))
	p.finals = append(p.finals, final)
	return nil
}

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chunks...)
}

func (p *fakePipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.ASRResponse{Text: f.text, Engine: "fake", SessionID: req.SessionID}, nil
}

type harness struct {
	t           *testing.T
	in          chan Envelope
	out         chan Outbound
	done        chan error
	cancel      context.CancelFunc
	sess        *Session
	ark         *stubProvider
	gemini      *stubProvider
	pipeline    *fakePipeline
	registry    *chatservice.Service
	transcriber *fakeTranscriber
}

type harnessOptions struct {
	principal   *auth.Principal
	anonymous   bool
	limits      map[string]ratelimit.Limit
	bufferLimit int
	arkGate     chan struct{}
	arkErr      error
	docTimeout  time.Duration
	// gemini 留在目录里但不注册实现
	noGemini    bool
}

func testCatalog() *ai.Catalog {
	return ai.NewCatalog(
		ai.ProviderInfo{Name: "ark", DefaultModel: "doubao-pro", VisionModel: "doubao-vision", Available: true, Models: []ai.ModelInfo{
			{ID: "doubao-pro"}, {ID: "doubao-lite"}, {ID: "doubao-vision", Vision: true},
		}},
		ai.ProviderInfo{Name: "gemini", DefaultModel: "gemini-2.5-flash", VisionModel: "gemini-2.5-flash", Available: true, Models: []ai.ModelInfo{
			{ID: "gemini-2.5-flash", Vision: true}, {ID: "gemini-1.5-pro", Vision: true},
		}},
	)
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	ark := &stubProvider{name: "ark", gate: opts.arkGate, err: opts.arkErr}
	gemini := &stubProvider{name: "gemini"}
	providers := []ai.Provider{ark}
	if !opts.noGemini {
		providers = append(providers, gemini)
	}
	transcriber := &fakeTranscriber{text: "What is a hash table?"}
	svc := ai.NewService(ai.NewRegistry(providers...), ai.Options{
		Limiter: ratelimit.New(opts.limits),
		Cache:   cache.New(cache.NewMemoryStore(100), time.Hour),
		Retry:   ai.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	router := routing.New(testCatalog(), map[routing.Mode]routing.Target{
		routing.ModeGeneral:  {Provider: "ark", Model: "doubao-pro"},
		routing.ModeCoding:   {Provider: "ark", Model: "doubao-pro"},
		routing.ModeDocument: {Provider: "gemini", Model: "gemini-2.5-flash"},
	})
	pipeline := newFakePipeline()
	registry := chatservice.NewService()

	deps := Deps{
		AI:          svc,
		Summarizer:  ai.NewSummarizer(svc),
		Router:      router,
		Auth:        auth.NewVerifier("secret", []string{"desktop-app-token"}),
		Personas:    persona.NewMemoryStore(persona.Seed()),
		Pipelines:   func(context.Context, string) (speech.Pipeline, error) { return pipeline, nil },
		Transcriber: transcriber,
		Extractor:   document.BasicExtractor{},
		Registry:    registry,
		Settings: Settings{
			HistoryCapacity:  10,
			AudioBufferLimit: opts.bufferLimit,
			DocumentTimeout:  opts.docTimeout,
		},
	}

	principal := opts.principal
	if principal == nil && !opts.anonymous {
		principal = &auth.Principal{ID: "desktop-user"}
	}

	out := make(chan Outbound, 64)
	in := make(chan Envelope)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:           t,
		in:          in,
		out:         out,
		done:        make(chan error, 1),
		cancel:      cancel,
		sess:        New(deps, principal, out),
		ark:         ark,
		gemini:      gemini,
		pipeline:    pipeline,
		registry:    registry,
		transcriber: transcriber,
	}
	go func() { h.done <- h.sess.Run(ctx, in) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) send(eventType string, data any) {
	h.t.Helper()
	env, err := NewEnvelope(eventType, data)
	require.NoError(h.t, err)
	select {
	case h.in <- env:
	case <-time.After(waitTimeout):
		h.t.Fatalf("session did not accept %s", eventType)
	}
}

// expect skips events until one of eventType arrives.
func (h *harness) expect(eventType string) Outbound {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-h.out:
			if msg.Type == eventType {
				return msg
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s", eventType)
			return Outbound{}
		}
	}
}

func (h *harness) expectError(errType string) ErrorPayload {
	h.t.Helper()
	for {
		msg := h.expect(EventError)
		payload := msg.Data.(ErrorPayload)
		if payload.Type == errType {
			return payload
		}
	}
}

func (h *harness) stop() error {
	h.t.Helper()
	close(h.in)
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("session did not stop")
		return nil
	}
}

func (h *harness) drain() []Outbound {
	var msgs []Outbound
	for {
		select {
		case msg := <-h.out:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
