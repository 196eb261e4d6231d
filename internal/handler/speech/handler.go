package speech

import (
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/wieesion/backend/internal/analysis/intent"
	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
	"github.com/zhouzirui/wieesion/backend/internal/service/metrics"
	speechsvc "github.com/zhouzirui/wieesion/backend/internal/service/speech"
	"github.com/zhouzirui/wieesion/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// TranscribeResponse 是 /speech/transcribe 的响应体。
type TranscribeResponse struct {
	SessionID   string  `json:"sessionId"`
	Text        string  `json:"text"`
	Disposition string  `json:"disposition"`
	Rule        string  `json:"rule"`
	Engine      string  `json:"engine"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// Handler 语音识别的HTTP处理器
type Handler struct {
	transcriber speechsvc.Transcriber
	language    string
	metrics     *metrics.Metrics
}

// New 创建语音处理器，transcriber 为空时接口返回 503。
func New(transcriber speechsvc.Transcriber, language string, m *metrics.Metrics) *Handler {
	if language == "" {
		language = "en-US"
	}
	return &Handler{transcriber: transcriber, language: language, metrics: m}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理语音转文本请求，并附带分类结果
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech recognition unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		sessionID = "http"
	}
	language := r.FormValue("language")
	if language == "" {
		language = h.language
	}
	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	resp, err := h.transcriber.Transcribe(r.Context(), &speechmodel.ASRRequest{
		SessionID: sessionID,
		Audio:     audio,
		Format:    format,
		Language:  language,
	})
	h.metrics.ObserveTranscription(h.transcriber.Name(), err)
	if err != nil {
		log.Printf("[speech] ASR error session=%s: %v", sessionID, err)
		switch {
		case errors.Is(err, speechsvc.ErrEmptyAudio):
			utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
		case errors.Is(err, speechsvc.ErrNoEngine):
			utils.RespondError(w, http.StatusServiceUnavailable, "speech recognition unavailable")
		default:
			utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		}
		return
	}

	decision := intent.Evaluate(resp.Text)
	h.metrics.ObserveClassification(string(decision.Disposition))
	utils.RespondJSON(w, http.StatusOK, TranscribeResponse{
		SessionID:   sessionID,
		Text:        resp.Text,
		Disposition: string(decision.Disposition),
		Rule:        decision.Rule,
		Engine:      resp.Engine,
		Confidence:  resp.Confidence,
	})
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	engine := "none"
	if h.transcriber != nil {
		engine = h.transcriber.Name()
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"engine": engine,
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".ogg", ".flac", ".pcm":
		return strings.TrimPrefix(ext, ".")
	case ".opus":
		return "ogg"
	default:
		return "wav"
	}
}
