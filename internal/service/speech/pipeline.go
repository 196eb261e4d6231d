package speech

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
)

// ErrPipelineClosed 表示管道已释放。
var ErrPipelineClosed = errors.New("transcription pipeline closed")

// Result is one output of a streaming pipeline: a segment or a failure.
type Result struct {
	Segment *speechmodel.Segment
	Err     error
}

// Pipeline is a per-session streaming transcription handle.
type Pipeline interface {
	// Ready is closed once the pipeline accepts audio.
	Ready() <-chan struct{}
	Send(chunk []byte, final bool) error
	Results() <-chan Result
	Close() error
}

// PipelineFactory creates a pipeline for one session.
type PipelineFactory func(ctx context.Context, sessionID string) (Pipeline, error)

// PipelineOptions 控制分段策略。
type PipelineOptions struct {
	SegmentBytes int
	Format       string
	Language     string
	// Warmup runs before the pipeline reports ready; an error ends the pipeline.
	Warmup func(ctx context.Context) error
}

// SegmentPipeline accumulates streamed PCM and transcribes it in segments
// through a Transcriber. Segments are cut when SegmentBytes have been
// buffered or when the client marks a chunk final.
type SegmentPipeline struct {
	transcriber Transcriber
	sessionID   string
	opts        PipelineOptions

	mu     sync.Mutex
	buf    []byte
	flush  bool
	closed bool

	wake    chan struct{}
	ready   chan struct{}
	results chan Result
	cancel  context.CancelFunc
}

// NewSegmentPipeline starts the pipeline goroutine.
func NewSegmentPipeline(ctx context.Context, t Transcriber, sessionID string, opts PipelineOptions) *SegmentPipeline {
	if opts.SegmentBytes <= 0 {
		opts.SegmentBytes = 96000
	}
	if opts.Format == "" {
		opts.Format = "pcm"
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &SegmentPipeline{
		transcriber: t,
		sessionID:   sessionID,
		opts:        opts,
		wake:        make(chan struct{}, 1),
		ready:       make(chan struct{}),
		results:     make(chan Result, 4),
		cancel:      cancel,
	}
	go p.run(ctx)
	return p
}

// NewPipelineFactory 返回基于 SegmentPipeline 的工厂。
func NewPipelineFactory(t Transcriber, opts PipelineOptions) PipelineFactory {
	return func(ctx context.Context, sessionID string) (Pipeline, error) {
		if t == nil {
			return nil, ErrNoEngine
		}
		return NewSegmentPipeline(ctx, t, sessionID, opts), nil
	}
}

func (p *SegmentPipeline) Ready() <-chan struct{} { return p.ready }

func (p *SegmentPipeline) Results() <-chan Result { return p.results }

// Send 追加音频；积压超过 8 个分段时丢弃最旧的数据。
func (p *SegmentPipeline) Send(chunk []byte, final bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.buf = append(p.buf, chunk...)
	if limit := p.opts.SegmentBytes * 8; len(p.buf) > limit {
		p.buf = append(p.buf[:0], p.buf[len(p.buf)-limit:]...)
	}
	if final {
		p.flush = true
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close releases the pipeline; an in-flight transcription is cancelled.
func (p *SegmentPipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.buf = nil
	p.mu.Unlock()
	p.cancel()
	return nil
}

func (p *SegmentPipeline) run(ctx context.Context) {
	if p.opts.Warmup != nil {
		if err := p.opts.Warmup(ctx); err != nil {
			p.emit(ctx, Result{Err: err})
			return
		}
	}
	close(p.ready)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		for {
			segment := p.take()
			if segment == nil {
				break
			}
			p.transcribe(ctx, segment)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *SegmentPipeline) take() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		p.flush = false
		return nil
	}
	if len(p.buf) < p.opts.SegmentBytes && !p.flush {
		return nil
	}
	n := len(p.buf)
	if !p.flush {
		n = p.opts.SegmentBytes
	}
	segment := make([]byte, n)
	copy(segment, p.buf[:n])
	p.buf = append(p.buf[:0], p.buf[n:]...)
	if len(p.buf) == 0 {
		p.flush = false
	}
	return segment
}

func (p *SegmentPipeline) transcribe(ctx context.Context, audio []byte) {
	resp, err := p.transcriber.Transcribe(ctx, &speechmodel.ASRRequest{
		SessionID: p.sessionID,
		Audio:     audio,
		Format:    p.opts.Format,
		Language:  p.opts.Language,
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[speech] session=%s segment transcription failed: %v", p.sessionID, err)
			p.emit(ctx, Result{Err: err})
		}
		return
	}
	p.emit(ctx, Result{Segment: &speechmodel.Segment{
		SessionID: p.sessionID,
		Text:      resp.Text,
		Engine:    resp.Engine,
		Bytes:     len(audio),
		CreatedAt: time.Now(),
	}})
}

func (p *SegmentPipeline) emit(ctx context.Context, r Result) {
	select {
	case p.results <- r:
	case <-ctx.Done():
	}
}
