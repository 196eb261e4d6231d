package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/wieesion/backend/internal/model/persona"
	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
	"github.com/zhouzirui/wieesion/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/wieesion/backend/internal/service/chat"
	"github.com/zhouzirui/wieesion/backend/internal/service/routing"
	sessionsvc "github.com/zhouzirui/wieesion/backend/internal/service/session"
	"github.com/zhouzirui/wieesion/backend/internal/service/speech"
)

const trustedToken = "test-token"

type echoProvider struct{}

func (echoProvider) Name() string { return "ark" }

func (echoProvider) Generate(_ context.Context, req *ai.Request) (*ai.Answer, error) {
	return &ai.Answer{Text: "echo: " + req.Question, Provider: "ark", Model: req.Model}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *chatservice.Service) {
	t.Helper()

	catalog := ai.NewCatalog(ai.ProviderInfo{
		Name:      "ark",
		Models:    []ai.ModelInfo{{ID: "doubao-pro"}, {ID: "doubao-vision", Vision: true}},
		Available: true,
	})
	router := routing.New(catalog, map[routing.Mode]routing.Target{
		routing.ModeGeneral: {Provider: "ark", Model: "doubao-pro"},
	})
	aiSvc := ai.NewService(ai.NewRegistry(echoProvider{}), ai.Options{})
	registry := chatservice.NewService()

	deps := sessionsvc.Deps{
		AI:         aiSvc,
		Summarizer: ai.NewSummarizer(aiSvc),
		Router:     router,
		Auth:       auth.NewVerifier("secret", []string{trustedToken}),
		Personas:   persona.NewMemoryStore(persona.Seed()),
		Pipelines: speech.NewPipelineFactory(&speech.MockTranscriber{Phrase: "What is a binary tree?"},
			speech.PipelineOptions{SegmentBytes: 4}),
		Registry: registry,
		Settings: sessionsvc.Settings{HistoryCapacity: 10},
	}

	r := chi.NewRouter()
	NewWebSocketHandler(deps).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	env, err := sessionsvc.NewEnvelope(eventType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// next 读取直到出现指定类型的事件。
func next(t *testing.T, conn *websocket.Conn, eventType string) sessionsvc.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env sessionsvc.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", eventType)
		if env.Type == eventType {
			return env
		}
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=forged"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTextQueryRoundTrip(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, wsURL(srv, "token="+trustedToken))

	connected := next(t, conn, sessionsvc.EventConnected)
	var info map[string]any
	require.NoError(t, json.Unmarshal(connected.Data, &info))
	assert.Equal(t, auth.DesktopPrincipal, info["principal"])
	assert.Equal(t, "ark", info["provider"])
	assert.Len(t, registry.ListSessions(context.Background()), 1)

	send(t, conn, sessionsvc.EventTextQuery, map[string]string{"text": "What is a hash table?"})

	transcript := next(t, conn, sessionsvc.EventTranscriptFinal)
	var tp sessionsvc.TranscriptPayload
	require.NoError(t, json.Unmarshal(transcript.Data, &tp))
	assert.Equal(t, "What is a hash table?", tp.Text)

	answer := next(t, conn, sessionsvc.EventAnswerFinal)
	var ap sessionsvc.AnswerPayload
	require.NoError(t, json.Unmarshal(answer.Data, &ap))
	assert.Equal(t, "echo: What is a hash table?", ap.Answer)
	assert.Equal(t, "doubao-pro", ap.Model)
}

func TestAudioChunksThroughPipeline(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, wsURL(srv, "token="+trustedToken))
	next(t, conn, sessionsvc.EventConnected)

	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6})
	send(t, conn, sessionsvc.EventAudioChunk, map[string]any{"audio": audio, "final": true})

	transcript := next(t, conn, sessionsvc.EventTranscriptFinal)
	var tp sessionsvc.TranscriptPayload
	require.NoError(t, json.Unmarshal(transcript.Data, &tp))
	assert.Equal(t, "What is a binary tree?", tp.Text)
	assert.Equal(t, "mock", tp.Engine)

	answer := next(t, conn, sessionsvc.EventAnswerFinal)
	var ap sessionsvc.AnswerPayload
	require.NoError(t, json.Unmarshal(answer.Data, &ap))
	assert.Equal(t, "echo: What is a binary tree?", ap.Answer)
}

func TestLateAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, wsURL(srv, ""))

	send(t, conn, sessionsvc.EventTextQuery, map[string]string{"text": "What is a hash table?"})
	errEnv := next(t, conn, sessionsvc.EventError)
	var ep sessionsvc.ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Data, &ep))
	assert.Equal(t, "not_authenticated", ep.Type)

	send(t, conn, sessionsvc.EventAuthenticate, map[string]string{"token": trustedToken})
	next(t, conn, sessionsvc.EventConnected)
	next(t, conn, sessionsvc.EventAuthenticated)
}

func TestFailedAuthenticationClosesConnection(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, wsURL(srv, ""))

	send(t, conn, sessionsvc.EventAuthenticate, map[string]string{"token": "nope"})
	errEnv := next(t, conn, sessionsvc.EventError)
	var ep sessionsvc.ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Data, &ep))
	assert.Equal(t, "auth_error", ep.Type)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env sessionsvc.Envelope
	assert.Error(t, conn.ReadJSON(&env))
	assert.Empty(t, registry.ListSessions(context.Background()))
}

func TestDisconnectRemovesSession(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, wsURL(srv, "token="+trustedToken))
	next(t, conn, sessionsvc.EventConnected)
	require.Len(t, registry.ListSessions(context.Background()), 1)

	conn.Close()
	require.Eventually(t, func() bool {
		return len(registry.ListSessions(context.Background())) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFramesReportValidationError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, wsURL(srv, "token="+trustedToken))
	next(t, conn, sessionsvc.EventConnected)

	for _, frame := range []string{`{"type": x}`, `{"type":"text_query","data":`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		env := next(t, conn, sessionsvc.EventError)
		var ep sessionsvc.ErrorPayload
		require.NoError(t, json.Unmarshal(env.Data, &ep))
		assert.Equal(t, "validation_error", ep.Type, frame)
	}

	// 连接仍然可用
	send(t, conn, sessionsvc.EventTextQuery, map[string]string{"text": "What is a hash table?"})
	next(t, conn, sessionsvc.EventAnswerFinal)
}
