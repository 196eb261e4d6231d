package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
)

// ChatModelFactory 按模型名创建 eino ChatModel。
type ChatModelFactory func(ctx context.Context, modelName string) (model.ChatModel, error)

// ArkProvider answers through Volcengine Ark chat models. Text-only turns run
// through a compiled prompt chain; image turns call the model directly with
// multi-part content.
type ArkProvider struct {
	factory ChatModelFactory
	tpl     prompt.ChatTemplate

	mu     sync.Mutex
	models map[string]model.ChatModel
	chains map[string]compose.Runnable[map[string]any, *schema.Message]
}

// NewArkProvider 创建 Ark provider，模型实例按需创建并缓存。
func NewArkProvider(factory ChatModelFactory) *ArkProvider {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)
	return &ArkProvider{
		factory: factory,
		tpl:     tpl,
		models:  make(map[string]model.ChatModel),
		chains:  make(map[string]compose.Runnable[map[string]any, *schema.Message]),
	}
}

// Name 实现 Provider。
func (p *ArkProvider) Name() string { return "ark" }

// Generate 实现 Provider。
func (p *ArkProvider) Generate(ctx context.Context, req *Request) (*Answer, error) {
	if req == nil || strings.TrimSpace(req.Question) == "" && req.Image == nil {
		return nil, fmt.Errorf("ark: empty request")
	}

	var opts []model.Option
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	var (
		resp *schema.Message
		err  error
	)
	if req.Image != nil {
		resp, err = p.generateWithImage(ctx, req, opts)
	} else {
		resp, err = p.generateText(ctx, req, opts)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, ErrEmptyAnswer
	}

	return &Answer{Text: strings.TrimSpace(resp.Content), Provider: p.Name(), Model: req.Model}, nil
}

func (p *ArkProvider) generateText(ctx context.Context, req *Request, opts []model.Option) (*schema.Message, error) {
	runnable, err := p.chain(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"system":  systemPrompt(req.System),
		"history": buildHistoryMessages(req.History),
		"query":   req.Question,
	}

	resp, err := runnable.Invoke(ctx, input, compose.WithChatModelOption(opts...))
	if err != nil {
		return nil, fmt.Errorf("ark chain invoke: %w", err)
	}
	return resp, nil
}

func (p *ArkProvider) generateWithImage(ctx context.Context, req *Request, opts []model.Option) (*schema.Message, error) {
	cm, err := p.chatModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	question := req.Question
	if strings.TrimSpace(question) == "" {
		question = "Describe what is shown in this image."
	}
	dataURL := "data:" + req.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)

	msgs := make([]*schema.Message, 0, len(req.History)+2)
	msgs = append(msgs, schema.SystemMessage(systemPrompt(req.System)))
	msgs = append(msgs, buildHistoryMessages(req.History)...)
	msgs = append(msgs, &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: question},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: dataURL}},
		},
	})

	resp, err := cm.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("ark vision generate: %w", err)
	}
	return resp, nil
}

func (p *ArkProvider) chatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cm, ok := p.models[modelName]; ok {
		return cm, nil
	}
	if p.factory == nil {
		return nil, ErrNotConfigured
	}
	cm, err := p.factory(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model %q: %w", modelName, err)
	}
	p.models[modelName] = cm
	return cm, nil
}

func (p *ArkProvider) chain(ctx context.Context, modelName string) (compose.Runnable[map[string]any, *schema.Message], error) {
	cm, err := p.chatModel(ctx, modelName)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.chains[modelName]; ok {
		return r, nil
	}

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(p.tpl).AppendChatModel(cm)
	r, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile ark chain: %w", err)
	}
	p.chains[modelName] = r
	return r, nil
}

func systemPrompt(system string) string {
	if strings.TrimSpace(system) == "" {
		return DefaultSystemPrompt
	}
	return system
}

func buildHistoryMessages(history []chat.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			msgs = append(msgs, schema.UserMessage(content))
		case chat.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(content, nil))
		}
	}
	return msgs
}
