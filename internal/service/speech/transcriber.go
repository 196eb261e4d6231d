package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
)

var (
	// ErrNoEngine 表示没有配置任何可用的识别引擎。
	ErrNoEngine = errors.New("no speech engine configured")
	// ErrEmptyAudio 表示请求中没有音频数据。
	ErrEmptyAudio = errors.New("no audio data to transcribe")
)

// Transcriber converts a complete audio clip to text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// FallbackTranscriber tries the primary engine once and, on failure, the
// secondary engine once before giving up.
type FallbackTranscriber struct {
	Primary   Transcriber
	Secondary Transcriber
}

// Name 返回组合后的引擎名称。
func (f *FallbackTranscriber) Name() string {
	switch {
	case f.Primary != nil && f.Secondary != nil:
		return f.Primary.Name() + "+" + f.Secondary.Name()
	case f.Primary != nil:
		return f.Primary.Name()
	case f.Secondary != nil:
		return f.Secondary.Name()
	}
	return "none"
}

// Transcribe 先走主引擎，失败后只重试一次备用引擎。
func (f *FallbackTranscriber) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if f.Primary == nil && f.Secondary == nil {
		return nil, ErrNoEngine
	}

	var primaryErr error
	if f.Primary != nil {
		resp, err := f.Primary.Transcribe(ctx, req)
		if err == nil {
			return resp, nil
		}
		primaryErr = err
		if f.Secondary == nil {
			return nil, fmt.Errorf("%s: %w", f.Primary.Name(), err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[speech] session=%s primary engine %s failed, falling back to %s: %v",
			req.SessionID, f.Primary.Name(), f.Secondary.Name(), err)
	}

	resp, err := f.Secondary.Transcribe(ctx, req)
	if err != nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("%s: %v; %s: %w", f.Primary.Name(), primaryErr, f.Secondary.Name(), err)
		}
		return nil, fmt.Errorf("%s: %w", f.Secondary.Name(), err)
	}
	return resp, nil
}

// MockTranscriber stands in when no engine credentials are configured.
// Every clip transcribes to the same phrase so the rest of the pipeline can
// be exercised end to end.
type MockTranscriber struct {
	Phrase string
}

// Name 返回引擎名称。
func (m *MockTranscriber) Name() string { return "mock" }

// Transcribe 返回固定文本。
func (m *MockTranscriber) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	phrase := strings.TrimSpace(m.Phrase)
	if phrase == "" {
		phrase = "What can you tell me about this conversation?"
	}
	return &speechmodel.ASRResponse{
		SessionID:  req.SessionID,
		Text:       phrase,
		Confidence: 0.5,
		Engine:     m.Name(),
		CreatedAt:  time.Now(),
	}, nil
}

// Engines 描述可用的识别引擎，按凭证是否存在挑选。
type Engines struct {
	Volcengine *VolcengineASR
	Gemini     *GeminiTranscriber
	Mock       bool
}

// Build picks the transcription chain from configured engines: Volcengine
// first, Gemini as the single fallback. With neither configured it uses the
// mock engine when allowed, otherwise a chain that reports ErrNoEngine.
func (e Engines) Build() Transcriber {
	chain := &FallbackTranscriber{}
	if e.Volcengine != nil {
		chain.Primary = e.Volcengine
	}
	if e.Gemini != nil {
		if chain.Primary == nil {
			chain.Primary = e.Gemini
		} else {
			chain.Secondary = e.Gemini
		}
	}
	// 模拟引擎只由 SPEECH_MOCK 显式开启，不按 provider 名称关键字猜测
	if chain.Primary == nil && e.Mock {
		log.Println("[speech] no speech engine configured, using mock transcription")
		return &MockTranscriber{}
	}
	return chain
}
