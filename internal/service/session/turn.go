package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/zhouzirui/wieesion/backend/internal/analysis/intent"
	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
	"github.com/zhouzirui/wieesion/backend/internal/service/document"
	"github.com/zhouzirui/wieesion/backend/internal/service/routing"
)

const visualSuffix = " [with screen context]"

type jobKind int

const (
	jobAnswer jobKind = iota
	jobTranscribe
	jobFile
	jobSummary
)

// job is one unit of blocking work. Everything it needs from the session is
// copied in before the worker starts.
type job struct {
	kind jobKind

	question string
	record   string
	image    *ai.Image
	visual   bool

	audio    []byte
	format   string
	language string

	fileName string
	mimeType string
	data     []byte

	transcript []chat.Message

	// mode 非空时覆盖会话模式
	mode routing.Mode

	// 由 start 填充
	sel     routing.Selection
	system  string
	history []chat.Message
}

type jobResult struct {
	job     *job
	target  routing.Target
	answer  *ai.Result
	asr     *speechmodel.ASRResponse
	file    *document.Content
	summary *ai.Summary
	err     error
}

// submit starts j now or queues it behind the running job.
func (s *Session) submit(j *job) {
	if !s.busy {
		s.start(j)
		return
	}
	if len(s.queue) >= maxPendingJobs {
		s.fail("validation_error", "Too many pending requests, please wait", true)
		return
	}
	s.queue = append(s.queue, j)
	s.emit(EventStatusUpdate, StatusPayload{Status: "queued", Message: "Waiting for the current request", Position: len(s.queue)})
}

func (s *Session) start(j *job) {
	s.busy = true
	s.current = j
	j.sel = s.sel
	if j.mode != "" {
		j.sel.Mode = j.mode
	}
	j.system = s.system
	j.history = s.history.Snapshot()

	if j.kind == jobAnswer || j.kind == jobFile {
		s.status("processing", "", j.question)
	}

	ctx := s.ctx
	results := s.results
	go func() {
		res := s.execute(ctx, j)
		res.job = j
		select {
		case results <- res:
		case <-ctx.Done():
			// 连接已断开，丢弃结果
		}
	}()
}

// execute runs in the worker goroutine and must not touch session state.
func (s *Session) execute(ctx context.Context, j *job) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] worker panic: %v", r)
			res = jobResult{err: fmt.Errorf("internal error: %v", r)}
		}
	}()

	switch j.kind {
	case jobTranscribe:
		if s.deps.Transcriber == nil {
			return jobResult{err: fmt.Errorf("no transcription engine configured")}
		}
		resp, err := s.deps.Transcriber.Transcribe(ctx, &speechmodel.ASRRequest{
			Audio:    j.audio,
			Format:   j.format,
			Language: j.language,
		})
		return jobResult{asr: resp, err: err}

	case jobSummary:
		if s.deps.Summarizer == nil {
			return jobResult{err: fmt.Errorf("summaries are not available")}
		}
		target, err := s.deps.Router.Resolve(j.sel, false)
		if err != nil {
			return jobResult{err: err}
		}
		summary, err := s.deps.Summarizer.Summarize(ctx, target.Provider, target.Model, j.transcript)
		return jobResult{target: target, summary: summary, err: err}

	case jobFile:
		ctx, cancel := context.WithTimeout(ctx, s.settings.DocumentTimeout)
		defer cancel()

		content, err := s.deps.Extractor.Extract(ctx, j.fileName, j.mimeType, j.data)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = &ai.Error{Kind: ai.KindTimeout, Err: context.DeadlineExceeded}
			}
			return jobResult{err: err}
		}
		j.question = document.Prompt(content, j.question)
		if content.IsImage() {
			j.image = &ai.Image{MIMEType: content.MIMEType, Data: content.Image}
		}
		out := s.answer(ctx, j)
		out.file = content
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.err = &ai.Error{Kind: ai.KindTimeout, Provider: out.target.Provider, Model: out.target.Model, Err: context.DeadlineExceeded}
		}
		return out

	default:
		return s.answer(ctx, j)
	}
}

func (s *Session) answer(ctx context.Context, j *job) jobResult {
	target, err := s.deps.Router.Resolve(j.sel, j.image != nil || j.visual)
	if err != nil {
		return jobResult{err: err}
	}
	if target.Substituted {
		log.Printf("[router] vision substitution -> %s/%s", target.Provider, target.Model)
	}
	result, err := s.deps.AI.Answer(ctx, ai.Query{
		Provider: target.Provider,
		Model:    target.Model,
		Persona:  j.system,
		System:   j.system,
		History:  j.history,
		Question: j.question,
		Image:    j.image,
	})
	return jobResult{target: target, answer: result, err: err}
}

// finish applies a worker result on the session goroutine.
func (s *Session) finish(res jobResult) {
	j := res.job
	s.busy = false
	s.current = nil

	switch j.kind {
	case jobTranscribe:
		s.deps.Metrics.ObserveTranscription(engineOf(res.asr), res.err)
		if res.err != nil {
			log.Printf("[session] %s audio_file transcription failed: %v", s.id, res.err)
			s.fail("stt_error", "Transcription failed: "+res.err.Error(), true)
		} else if res.asr == nil || strings.TrimSpace(res.asr.Text) == "" {
			s.fail("stt_error", "No speech detected", true)
		} else {
			s.onTranscript(res.asr.Text, "audio", res.asr.Engine)
		}
	case jobSummary:
		s.finishSummary(res)
	case jobFile:
		if res.file == nil && res.err != nil {
			s.fileFailed(j, res.err)
			break
		}
		s.emit(EventFileReady, map[string]any{
			"name":      j.fileName,
			"mimeType":  res.file.MIMEType,
			"kind":      fileKind(res.file),
			"chars":     len([]rune(res.file.Text)),
			"truncated": res.file.Truncated,
		})
		s.finishAnswer(j, res, "file_error")
	default:
		errType := "answer_error"
		if j.image != nil {
			errType = "visual_error"
		}
		s.finishAnswer(j, res, errType)
	}

	// 转写结果可能已经启动了新的任务
	if !s.busy && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.start(next)
	}
}

func (s *Session) finishAnswer(j *job, res jobResult, fallback string) {
	if res.err != nil {
		log.Printf("[session] %s answer failed: %v", s.id, res.err)
		s.failWith(res.err, fallback)
		return
	}

	user := chat.NewMessage(chat.RoleUser, j.record)
	assistant := chat.NewMessage(chat.RoleAssistant, res.answer.Text)
	s.history.Append(user)
	s.history.Append(assistant)
	s.transcript.Record(user, assistant)

	log.Printf("[session] %s answered via %s/%s cached=%v", s.id, res.answer.Provider, res.answer.Model, res.answer.Cached)
	s.emit(EventAnswerFinal, AnswerPayload{
		Answer:   res.answer.Text,
		Provider: res.answer.Provider,
		Model:    res.answer.Model,
		Mode:     string(j.sel.Mode),
		Question: j.record,
		Cached:   res.answer.Cached,
	})
}

func (s *Session) finishSummary(res jobResult) {
	if res.err != nil {
		log.Printf("[session] %s summary failed: %v", s.id, res.err)
		s.failWith(res.err, "summary_error")
		s.emit(EventSessionEnded, map[string]any{"success": false, "message": "Summary generation failed"})
		return
	}
	s.emit(EventSessionSummary, res.summary)
	s.emit(EventSessionEnded, map[string]any{"success": true, "messageCount": res.summary.Messages})
}

func (s *Session) fileFailed(j *job, err error) {
	log.Printf("[session] %s file %q rejected: %v", s.id, j.fileName, err)
	s.emit(EventFileError, map[string]any{"name": j.fileName, "error": err.Error()})
	s.fail("file_error", err.Error(), false)
}

// failWith maps err onto an error event that tells "try again" apart from
// "reconfigure".
func (s *Session) failWith(err error, fallback string) {
	var (
		rl    *ai.RateLimitError
		aiErr *ai.Error
	)
	switch {
	case errors.As(err, &rl):
		s.deps.Metrics.ObserveError("rate_limited")
		s.emit(EventError, ErrorPayload{
			Type:       "rate_limited",
			Message:    fmt.Sprintf("Rate limit reached for %s. Please wait %d seconds.", rl.Provider, rl.RetryAfterSeconds()),
			Retryable:  true,
			RetryAfter: rl.RetryAfterSeconds(),
		})
	case errors.Is(err, ai.ErrNotConfigured), errors.Is(err, ai.ErrUnknownProvider),
		errors.Is(err, ai.ErrUnknownModel), errors.Is(err, routing.ErrNoVision):
		// 配置类错误优先于 *ai.Error，提示客户端更换 provider
		s.fail("provider_error", err.Error(), false)
	case errors.As(err, &aiErr):
		switch aiErr.Kind {
		case ai.KindCanceled:
			return
		case ai.KindTimeout:
			s.fail("timeout", "The request timed out, please try again", true)
		case ai.KindTransient:
			s.fail("upstream_unavailable", fmt.Sprintf("%s is temporarily unavailable: %v", aiErr.Provider, aiErr.Err), true)
		default:
			s.fail("upstream_rejected", fmt.Sprintf("%s rejected the request, check provider settings: %v", aiErr.Provider, aiErr.Err), false)
		}
	case errors.Is(err, context.DeadlineExceeded):
		s.fail("timeout", "The request timed out, please try again", true)
	default:
		s.fail(fallback, err.Error(), false)
	}
}

// onTranscript runs the classifier and either drops the text or queues an answer.
func (s *Session) onTranscript(text, source, engine string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	decision := intent.Evaluate(text)
	s.deps.Metrics.ObserveClassification(string(decision.Disposition))
	log.Printf("[session] %s %s classified %s (%s)", s.id, source, decision.Disposition, decision.Rule)

	if decision.Disposition == intent.Noise {
		s.status("ignored", "Ignored (Chatter)", text)
		return
	}

	s.emit(EventTranscriptFinal, TranscriptPayload{
		Text:        text,
		Source:      source,
		Disposition: string(decision.Disposition),
		Engine:      engine,
	})
	s.submit(&job{
		kind:     jobAnswer,
		question: text,
		record:   text,
		visual:   decision.Disposition == intent.Visual,
	})
}

func (s *Session) onTextQuery(raw json.RawMessage) {
	var p textPayload
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Text) == "" {
		s.fail("validation_error", "text is required", false)
		return
	}
	s.onTranscript(p.Text, "text", "")
}

func (s *Session) onVisualQuery(raw json.RawMessage) {
	var p visualPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.fail("visual_error", "invalid visual payload", false)
		return
	}
	img, err := decodeImage(p.Image, p.MIMEType)
	if err != nil {
		s.fail("visual_error", err.Error(), false)
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		text = "What is shown on my screen?"
	}
	s.submit(&job{
		kind:     jobAnswer,
		question: text,
		record:   text + visualSuffix,
		image:    img,
		visual:   true,
	})
}

func (s *Session) onFileUpload(raw json.RawMessage) {
	var p filePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.fail("file_error", "invalid file payload", false)
		return
	}
	data, err := decodeBase64(p.File)
	if err != nil || len(data) == 0 {
		s.emit(EventFileError, map[string]any{"name": p.Name, "error": "file content is missing or not base64"})
		s.fail("file_error", "file content is missing or not base64", false)
		return
	}
	if s.deps.Extractor == nil {
		s.fail("file_error", "document processing unavailable", false)
		return
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "upload"
	}
	question := strings.TrimSpace(p.Question)
	record := question
	if record == "" {
		record = "Analyze this file"
	}

	j := &job{
		kind:     jobFile,
		mode:     routing.ModeDocument,
		question: question,
		fileName: name,
		mimeType: p.MIMEType,
		data:     data,
	}
	j.record = fmt.Sprintf("%s [%s: %s]", record, kindForMIME(p.MIMEType, name), name)
	s.submit(j)
}

func (s *Session) onAudioFile(raw json.RawMessage) {
	var p audioFilePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.fail("stt_error", "invalid audio payload", false)
		return
	}
	audio, err := decodeBase64(p.Audio)
	if err != nil || len(audio) == 0 {
		s.fail("stt_error", "audio is missing or not base64", false)
		return
	}
	format := strings.TrimSpace(p.Format)
	if format == "" {
		format = "webm"
	}
	language := p.Language
	if language == "" {
		language = s.settings.Language
	}
	s.submit(&job{kind: jobTranscribe, audio: audio, format: format, language: language})
}

func engineOf(resp *speechmodel.ASRResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Engine
}

func fileKind(c *document.Content) string {
	if c.IsImage() {
		return "Image"
	}
	return "Document"
}

func kindForMIME(mimeType, name string) string {
	mimeType = strings.ToLower(mimeType)
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "Image"
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "Image"
	default:
		return "Document"
	}
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(raw, mimeType string) (*ai.Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("image is required")
	}
	if strings.HasPrefix(raw, "data:") {
		comma := strings.Index(raw, ",")
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		header := raw[len("data:"):comma]
		if semi := strings.Index(header, ";"); semi >= 0 {
			header = header[:semi]
		}
		if mimeType == "" {
			mimeType = header
		}
		raw = raw[comma+1:]
	}
	data, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("image is not valid base64: %w", err)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("unsupported image type %q", mimeType)
	}
	return &ai.Image{MIMEType: mimeType, Data: data}, nil
}

func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(raw)
}
