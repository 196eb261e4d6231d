package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
)

func TestArkProviderTextChain(t *testing.T) {
	fake := &fakeChatModel{reply: " A hash table maps keys to buckets. "}
	created := 0
	p := NewArkProvider(func(_ context.Context, name string) (model.ChatModel, error) {
		created++
		assert.Equal(t, "doubao-pro", name)
		return fake, nil
	})

	history := []chat.Message{chat.NewMessage(chat.RoleUser, "hi"), chat.NewMessage(chat.RoleAssistant, "hello")}
	answer, err := p.Generate(context.Background(), &Request{Model: "doubao-pro", History: history, Question: "What is a hash table?"})
	require.NoError(t, err)
	assert.Equal(t, "A hash table maps keys to buckets.", answer.Text)
	assert.Equal(t, "ark", answer.Provider)

	require.Len(t, fake.input, 1)
	msgs := fake.input[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, DefaultSystemPrompt, msgs[0].Content)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, "What is a hash table?", msgs[3].Content)

	_, err = p.Generate(context.Background(), &Request{Model: "doubao-pro", Question: "again"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestArkProviderImageUsesMultiContent(t *testing.T) {
	fake := &fakeChatModel{reply: "a diagram"}
	p := NewArkProvider(func(context.Context, string) (model.ChatModel, error) { return fake, nil })

	_, err := p.Generate(context.Background(), &Request{
		Model:    "doubao-vision",
		System:   "be brief",
		Question: "what is this",
		Image:    &Image{MIMEType: "image/png", Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)

	msgs := fake.input[0]
	last := msgs[len(msgs)-1]
	require.Len(t, last.MultiContent, 2)
	assert.Equal(t, "what is this", last.MultiContent[0].Text)
	assert.Equal(t, "data:image/png;base64,AQID", last.MultiContent[1].ImageURL.URL)
	assert.Equal(t, "be brief", msgs[0].Content)
}

func TestArkProviderEmptyAnswer(t *testing.T) {
	p := NewArkProvider(func(context.Context, string) (model.ChatModel, error) { return &fakeChatModel{reply: "  "}, nil })
	_, err := p.Generate(context.Background(), &Request{Model: "m", Question: "q", Image: &Image{MIMEType: "image/png"}})
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestArkProviderFactoryError(t *testing.T) {
	p := NewArkProvider(func(context.Context, string) (model.ChatModel, error) { return nil, errors.New("no key") })
	_, err := p.Generate(context.Background(), &Request{Model: "m", Question: "q"})
	assert.ErrorContains(t, err, "no key")
}

func TestGeminiProviderBuildsContents(t *testing.T) {
	fake := &fakeGeminiModels{reply: "answer"}
	p := NewGeminiProvider(fake, 0)

	history := []chat.Message{chat.NewMessage(chat.RoleUser, "q1"), chat.NewMessage(chat.RoleAssistant, "a1")}
	answer, err := p.Generate(context.Background(), &Request{
		Model:    "gemini-2.5-flash",
		History:  history,
		Question: "describe",
		Image:    &Image{MIMEType: "image/jpeg", Data: []byte("jpg")},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Text)
	assert.Equal(t, "gemini-2.5-flash", fake.model)

	require.Len(t, fake.contents, 3)
	assert.Equal(t, string(genai.RoleModel), fake.contents[1].Role)
	last := fake.contents[2]
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "image/jpeg", last.Parts[1].InlineData.MIMEType)
	assert.Equal(t, int32(2048), fake.config.MaxOutputTokens)
	assert.Equal(t, DefaultSystemPrompt, fake.config.SystemInstruction.Parts[0].Text)
}

func TestGeminiProviderError(t *testing.T) {
	p := NewGeminiProvider(&fakeGeminiModels{err: errors.New("429 quota")}, 100)
	_, err := p.Generate(context.Background(), &Request{Model: "g", Question: "q"})
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify("gemini", "g", err).Kind)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&fakeProvider{name: "Ark"}, nil)
	_, err := r.Get("ark")
	assert.NoError(t, err)
	_, err = r.Get("gemini")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, []string{"ark"}, r.Names())
}
