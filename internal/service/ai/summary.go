package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
)

// ErrEmptyTranscript 表示没有可总结的对话。
var ErrEmptyTranscript = errors.New("no conversation to summarize")

const summarySystem = "You are an assistant that writes meeting notes. Be factual and concise."

const summaryInstruction = `Summarize the following conversation. Use these sections:

## Key Topics
## Decisions
## Action Items
## Important Points

Conversation:
{transcript}`

const followUpInstruction = `Based on the meeting summary below, draft a short professional follow-up email that recaps the discussion and lists the action items.

Summary:
{summary}`

// Summary 是录音结束后生成的会议纪要。
type Summary struct {
	Summary       string `json:"summary"`
	FollowUpEmail string `json:"followUpEmail,omitempty"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Messages      int    `json:"messageCount"`
}

// Summarizer turns a recorded transcript into notes and a follow-up email.
type Summarizer struct {
	svc      *Service
	summary  prompt.ChatTemplate
	followUp prompt.ChatTemplate
}

// NewSummarizer 创建总结器。
func NewSummarizer(svc *Service) *Summarizer {
	return &Summarizer{
		svc: svc,
		summary: prompt.FromMessages(schema.FString,
			schema.SystemMessage(summarySystem),
			schema.UserMessage(summaryInstruction),
		),
		followUp: prompt.FromMessages(schema.FString,
			schema.SystemMessage(summarySystem),
			schema.UserMessage(followUpInstruction),
		),
	}
}

// Summarize 生成纪要。纪要失败返回错误；邮件失败只会让 FollowUpEmail 为空。
func (s *Summarizer) Summarize(ctx context.Context, provider, model string, transcript []chat.Message) (*Summary, error) {
	if len(transcript) == 0 {
		return nil, ErrEmptyTranscript
	}

	temperature := float32(0.5)
	text, err := s.run(ctx, s.summary, map[string]any{"transcript": chat.Format(transcript)}, provider, model, &temperature, 1024)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	out := &Summary{Summary: text, Provider: provider, Model: model, Messages: len(transcript)}

	followTemp := float32(0.7)
	if email, err := s.run(ctx, s.followUp, map[string]any{"summary": text}, provider, model, &followTemp, 512); err == nil {
		out.FollowUpEmail = email
	}
	return out, nil
}

func (s *Summarizer) run(ctx context.Context, tpl prompt.ChatTemplate, vars map[string]any, provider, model string, temperature *float32, maxTokens int) (string, error) {
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("format prompt: %w", err)
	}

	req := &Request{Model: model, Temperature: temperature, MaxTokens: maxTokens}
	for _, m := range msgs {
		switch m.Role {
		case schema.System:
			req.System = m.Content
		case schema.User:
			req.Question = strings.TrimSpace(m.Content)
		}
	}

	// 纪要和邮件各占一次配额
	if err := s.svc.Admit(provider); err != nil {
		return "", err
	}
	answer, err := s.svc.Generate(ctx, provider, req)
	if err != nil {
		return "", err
	}
	return answer.Text, nil
}
