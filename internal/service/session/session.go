package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
	"github.com/zhouzirui/wieesion/backend/internal/model/persona"
	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
	"github.com/zhouzirui/wieesion/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/wieesion/backend/internal/service/chat"
	"github.com/zhouzirui/wieesion/backend/internal/service/document"
	"github.com/zhouzirui/wieesion/backend/internal/service/metrics"
	"github.com/zhouzirui/wieesion/backend/internal/service/routing"
	"github.com/zhouzirui/wieesion/backend/internal/service/speech"
)

// ErrAuthFailed ends a session whose authenticate event was rejected.
var ErrAuthFailed = errors.New("authentication failed")

// State 是会话的轮次状态。
type State string

const (
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateAwaitingFile State = "awaiting_file"
	StateProcessing   State = "processing"
)

const maxPendingJobs = 16

// Authenticator 校验 authenticate 事件携带的令牌。
type Authenticator interface {
	Verify(token string) (auth.Principal, error)
}

// Settings are per-session limits.
type Settings struct {
	HistoryCapacity  int
	AudioBufferLimit int
	DocumentTimeout  time.Duration
	AudioFormat      string
	Language         string
}

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	AI          *ai.Service
	Summarizer  *ai.Summarizer
	Router      *routing.Router
	Auth        Authenticator
	Personas    persona.Store
	Pipelines   speech.PipelineFactory
	Transcriber speech.Transcriber
	Extractor   document.Extractor
	Registry    *chatservice.Service
	Metrics     *metrics.Metrics
	Settings    Settings
}

type audioChunk struct {
	data  []byte
	final bool
}

// Session is the state machine of one client connection. All fields are
// owned by the Run goroutine; blocking work runs in a single worker whose
// result is handed back over a channel.
type Session struct {
	deps     Deps
	settings Settings
	out      chan<- Outbound

	id        string
	principal *auth.Principal
	createdAt time.Time

	sel        routing.Selection
	personaRaw string
	system     string

	history    *chat.History
	transcript chat.Transcript

	pipeline      speech.Pipeline
	pipelineReady bool
	audioBuf      []audioChunk

	busy    bool
	current *job
	queue   []*job
	results chan jobResult

	ctx context.Context
}

// New creates a session. principal is nil when the handshake carried no
// credential; the session then waits for an authenticate event.
func New(deps Deps, principal *auth.Principal, out chan<- Outbound) *Session {
	settings := deps.Settings
	if settings.AudioBufferLimit <= 0 {
		settings.AudioBufferLimit = 50
	}
	if settings.DocumentTimeout <= 0 {
		settings.DocumentTimeout = 60 * time.Second
	}
	if settings.AudioFormat == "" {
		settings.AudioFormat = "pcm"
	}
	return &Session{
		deps:      deps,
		settings:  settings,
		out:       out,
		principal: principal,
		createdAt: time.Now().UTC(),
		sel:       routing.Selection{Mode: routing.ModeGeneral},
		history:   chat.NewHistory(settings.HistoryCapacity),
		results:   make(chan jobResult, 1),
	}
}

// ID 返回会话 ID，认证前为空。
func (s *Session) ID() string { return s.id }

// State 推导当前状态，只能在 Run 协程内或 Run 返回后调用。
func (s *Session) State() State {
	switch {
	case s.principal == nil || s.id == "":
		return StateConnecting
	case s.busy && s.current != nil && s.current.kind == jobFile:
		return StateAwaitingFile
	case s.busy:
		return StateProcessing
	case s.pipeline != nil:
		return StateRecording
	default:
		return StateIdle
	}
}

// History 返回上下文快照。
func (s *Session) History() []chat.Message { return s.history.Snapshot() }

// Run processes inbound events until the channel closes, ctx is cancelled
// or authentication fails.
func (s *Session) Run(ctx context.Context, inbound <-chan Envelope) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] %s panic: %v\n%s", s.id, r, debug.Stack())
			err = fmt.Errorf("session panic: %v", r)
		}
		cancel()
		s.shutdown()
	}()

	if s.principal != nil {
		s.authenticated()
	}

	for {
		var (
			ready    <-chan struct{}
			segments <-chan speech.Result
		)
		if s.pipeline != nil {
			if !s.pipelineReady {
				ready = s.pipeline.Ready()
			}
			segments = s.pipeline.Results()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := s.handle(env); err != nil {
				return err
			}
		case <-ready:
			s.pipelineReady = true
			s.flushAudio()
		case r := <-segments:
			s.onSegment(r)
		case res := <-s.results:
			s.finish(res)
		}
	}
}

func (s *Session) authenticated() {
	id := ""
	if s.deps.Registry != nil {
		if snap, err := s.deps.Registry.CreateSession(s.ctx, s.principal.ID); err == nil {
			id = snap.ID
		}
	}
	if id == "" {
		id = fmt.Sprintf("s-%d", time.Now().UnixNano())
	}
	s.id = id
	s.deps.Metrics.SessionStarted()

	target, _ := s.resolve(false)
	s.publish()
	log.Printf("[session] %s authenticated principal=%s provider=%s model=%s", s.id, s.principal.ID, target.Provider, target.Model)

	s.emit(EventConnected, map[string]any{
		"sessionId": s.id,
		"principal": s.principal.ID,
		"provider":  target.Provider,
		"model":     target.Model,
		"mode":      string(s.sel.Mode),
	})
}

func (s *Session) shutdown() {
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			log.Printf("[session] %s close pipeline: %v", s.id, err)
		}
		s.pipeline = nil
	}
	s.audioBuf = nil
	s.queue = nil
	s.transcript.Stop()

	if s.id == "" {
		return
	}
	if s.deps.Registry != nil {
		s.deps.Registry.RemoveSession(context.Background(), s.id)
	}
	s.deps.Metrics.SessionEnded(time.Since(s.createdAt))
	log.Printf("[session] %s closed", s.id)
}

func (s *Session) handle(env Envelope) error {
	if env.Invalid != "" {
		s.fail("validation_error", "Malformed message: "+env.Invalid, false)
		return nil
	}
	if s.principal == nil {
		if env.Type != EventAuthenticate {
			s.fail("not_authenticated", "Authenticate before sending "+env.Type, false)
			return nil
		}
		return s.onAuthenticate(env.Data)
	}

	if env.SessionID != "" && env.SessionID != s.id {
		s.fail("validation_error", "session mismatch", false)
		return nil
	}

	switch env.Type {
	case EventAuthenticate:
		s.emit(EventAuthenticated, map[string]any{"principal": s.principal.ID})
	case EventChangeProvider:
		s.onChangeProvider(env.Data)
	case EventChangeModel:
		s.onChangeModel(env.Data)
	case EventSetPersona:
		s.onSetPersona(env.Data)
	case EventSetMode:
		s.onSetMode(env.Data)
	case EventGetModels:
		s.onGetModels()
	case EventValidateProvider:
		s.onValidateProvider(env.Data)
	case EventAudioChunk:
		s.onAudioChunk(env.Data)
	case EventAudioFile:
		s.onAudioFile(env.Data)
	case EventTextQuery:
		s.onTextQuery(env.Data)
	case EventVisualQuery:
		s.onVisualQuery(env.Data)
	case EventFileUpload:
		s.onFileUpload(env.Data)
	case EventStartSession:
		s.onStartSession()
	case EventEndSession:
		s.onEndSession()
	default:
		s.fail("validation_error", "unsupported message type: "+env.Type, false)
	}
	return nil
}

func (s *Session) onAuthenticate(raw json.RawMessage) error {
	var p authenticatePayload
	_ = json.Unmarshal(raw, &p)
	token := p.Token
	if token == "" {
		token = p.Credential
	}
	if s.deps.Auth == nil {
		s.fail("auth_error", "authentication unavailable", false)
		return ErrAuthFailed
	}
	principal, err := s.deps.Auth.Verify(token)
	if err != nil {
		log.Printf("[session] authenticate rejected: %v", err)
		s.fail("auth_error", "Invalid or expired token", false)
		return ErrAuthFailed
	}

	s.principal = &principal
	s.authenticated()
	s.emit(EventAuthenticated, map[string]any{"principal": principal.ID})
	return nil
}

func (s *Session) onChangeProvider(raw json.RawMessage) {
	var p providerPayload
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Provider) == "" {
		s.fail("provider_error", "provider is required", false)
		return
	}
	info, err := s.deps.Router.Catalog().Lookup(p.Provider)
	if err != nil {
		s.fail("provider_error", err.Error(), false)
		return
	}

	s.sel.Provider = info.Name
	s.sel.Model = ""
	target, err := s.resolve(false)
	if err != nil {
		s.fail("provider_error", err.Error(), false)
		return
	}
	s.publish()
	log.Printf("[session] %s provider -> %s/%s", s.id, target.Provider, target.Model)

	s.emit(EventProviderChanged, map[string]any{
		"provider":  target.Provider,
		"model":     target.Model,
		"models":    info.Models,
		"available": info.Available,
	})
}

func (s *Session) onChangeModel(raw json.RawMessage) {
	var p modelPayload
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Model) == "" {
		s.fail("model_error", "model is required", false)
		return
	}
	current, err := s.resolve(false)
	if err != nil {
		s.fail("model_error", err.Error(), false)
		return
	}
	model := strings.TrimSpace(p.Model)
	if err := s.deps.Router.Catalog().Validate(current.Provider, model); err != nil {
		s.fail("model_error", err.Error(), false)
		return
	}

	s.sel.Provider = current.Provider
	s.sel.Model = model
	s.publish()
	log.Printf("[session] %s model -> %s/%s", s.id, current.Provider, model)
	s.emit(EventModelChanged, map[string]any{"provider": current.Provider, "model": model})
}

func (s *Session) onSetPersona(raw json.RawMessage) {
	var p personaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.fail("validation_error", "invalid persona payload", false)
		return
	}
	s.personaRaw = strings.TrimSpace(p.Persona)
	s.system = persona.Resolve(s.deps.Personas, s.personaRaw)

	preset := false
	if s.deps.Personas != nil && s.personaRaw != "" {
		_, preset = s.deps.Personas.FindByID(s.personaRaw)
	}
	s.emit(EventPersonaSet, map[string]any{"persona": s.personaRaw, "preset": preset, "cleared": s.system == ""})
}

func (s *Session) onSetMode(raw json.RawMessage) {
	var p modePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.fail("validation_error", "invalid mode payload", false)
		return
	}
	mode, err := routing.ParseMode(p.Mode)
	if err != nil {
		s.fail("validation_error", err.Error(), false)
		return
	}
	s.sel.Mode = mode
	target, err := s.resolve(false)
	if err != nil {
		s.fail("provider_error", err.Error(), false)
		return
	}
	s.publish()
	s.emit(EventModeChanged, map[string]any{"mode": string(mode), "provider": target.Provider, "model": target.Model})
}

func (s *Session) onGetModels() {
	target, _ := s.resolve(false)
	s.emit(EventModelsList, map[string]any{
		"providers": s.deps.Router.Catalog().Providers(),
		"current":   target,
	})
}

func (s *Session) onValidateProvider(raw json.RawMessage) {
	var p providerPayload
	_ = json.Unmarshal(raw, &p)
	info, err := s.deps.Router.Catalog().Lookup(p.Provider)
	valid := err == nil && info.Available
	data := map[string]any{"provider": p.Provider, "valid": valid}
	if err != nil {
		data["message"] = err.Error()
	} else if !info.Available {
		data["message"] = "provider is not configured"
	}
	s.emit(EventProviderValidated, data)
}

func (s *Session) onStartSession() {
	s.transcript.Start()
	s.publish()
	log.Printf("[session] %s recording started", s.id)
	s.emit(EventSessionStarted, map[string]any{"startedAt": time.Now().UTC()})
}

func (s *Session) onEndSession() {
	msgs := s.transcript.Stop()
	s.publish()
	if len(msgs) == 0 {
		s.emit(EventSessionEnded, map[string]any{"success": false, "message": "No conversation to summarize"})
		return
	}
	log.Printf("[session] %s recording ended with %d messages", s.id, len(msgs))
	s.submit(&job{kind: jobSummary, transcript: msgs})
}

// resolve 计算当前选择对应的 provider/model。
func (s *Session) resolve(hasImage bool) (routing.Target, error) {
	return s.deps.Router.Resolve(s.sel, hasImage)
}

// publish 把快照同步到进程内登记表。
func (s *Session) publish() {
	if s.deps.Registry == nil || s.id == "" {
		return
	}
	target, _ := s.resolve(false)
	snap := chat.Session{
		ID:        s.id,
		Provider:  target.Provider,
		Model:     target.Model,
		Mode:      string(s.sel.Mode),
		Recording: s.transcript.Active(),
		CreatedAt: s.createdAt,
	}
	if s.principal != nil {
		snap.Principal = s.principal.ID
	}
	if err := s.deps.Registry.UpdateSession(s.ctx, snap); err != nil {
		log.Printf("[session] %s publish snapshot: %v", s.id, err)
	}
}

func (s *Session) emit(eventType string, data any) {
	msg := Outbound{Type: eventType, SessionID: s.id, Data: data, Timestamp: time.Now().UnixMilli()}
	select {
	case s.out <- msg:
	case <-s.ctx.Done():
	}
}

func (s *Session) status(status, message, text string) {
	s.emit(EventStatusUpdate, StatusPayload{Status: status, Message: message, Text: text})
}

func (s *Session) fail(errType, message string, retryable bool) {
	s.deps.Metrics.ObserveError(errType)
	s.emit(EventError, ErrorPayload{Type: errType, Message: message, Retryable: retryable})
}
