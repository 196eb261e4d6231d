package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
)

// GeminiModels is the subset of *genai.Models used for generation.
type GeminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider answers through the Gemini API.
type GeminiProvider struct {
	models          GeminiModels
	maxOutputTokens int32
}

// NewGeminiProvider 创建 Gemini provider。
func NewGeminiProvider(models GeminiModels, maxOutputTokens int) *GeminiProvider {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 2048
	}
	return &GeminiProvider{models: models, maxOutputTokens: int32(maxOutputTokens)}
}

// Name 实现 Provider。
func (p *GeminiProvider) Name() string { return "gemini" }

// Generate 实现 Provider。
func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Answer, error) {
	if p.models == nil {
		return nil, ErrNotConfigured
	}
	if req == nil || strings.TrimSpace(req.Question) == "" && req.Image == nil {
		return nil, fmt.Errorf("gemini: empty request")
	}

	contents := buildGeminiContents(req.History)
	parts := []*genai.Part{}
	if q := strings.TrimSpace(req.Question); q != "" {
		parts = append(parts, &genai.Part{Text: q})
	}
	if req.Image != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data}})
	}
	contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})

	maxTokens := p.maxOutputTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt(req.System)}}},
		MaxOutputTokens:   maxTokens,
		Temperature:       req.Temperature,
	}

	resp, err := p.models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	return &Answer{Text: text, Provider: p.Name(), Model: req.Model}, nil
}

func buildGeminiContents(history []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := string(genai.RoleUser)
		if msg.Role == chat.RoleAssistant {
			role = string(genai.RoleModel)
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: content}}})
	}
	return contents
}
