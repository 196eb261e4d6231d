package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
)

const transcribePrompt = "Transcribe the speech in this audio verbatim. Return only the transcript text, without commentary. If there is no intelligible speech, return an empty response."

// ContentGenerator is the subset of *genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTranscriber 使用 Gemini 多模态模型做备用语音识别。
type GeminiTranscriber struct {
	models ContentGenerator
	model  string
}

// NewGeminiTranscriber 创建备用识别引擎。
func NewGeminiTranscriber(models ContentGenerator, model string) *GeminiTranscriber {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiTranscriber{models: models, model: model}
}

// Name 返回引擎名称。
func (g *GeminiTranscriber) Name() string { return "gemini" }

// Transcribe 以内联音频的方式请求转写。
func (g *GeminiTranscriber) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if g.models == nil {
		return nil, errors.New("gemini client not initialized")
	}

	start := time.Now()
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{MIMEType: req.MIMEType(), Data: req.Audio}},
		},
	}}
	temperature := float32(0)
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	confidence := 0.0
	if text != "" {
		confidence = 0.85
	}
	return &speechmodel.ASRResponse{
		SessionID:  req.SessionID,
		Text:       text,
		Confidence: confidence,
		Duration:   time.Since(start).Milliseconds(),
		Engine:     g.Name(),
		CreatedAt:  time.Now(),
	}, nil
}
