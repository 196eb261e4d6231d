package session

import (
	"encoding/json"
	"log"

	"github.com/zhouzirui/wieesion/backend/internal/service/speech"
)

func (s *Session) onAudioChunk(raw json.RawMessage) {
	var p audioChunkPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.fail("stt_error", "invalid audio payload", false)
		return
	}
	data, err := decodeBase64(p.Audio)
	if err != nil {
		s.fail("stt_error", "audio is not base64", false)
		return
	}
	if len(data) == 0 && !p.Final {
		return
	}

	if s.pipeline == nil {
		if s.deps.Pipelines == nil {
			s.fail("stt_error", "speech recognition unavailable", false)
			return
		}
		pipeline, err := s.deps.Pipelines(s.ctx, s.id)
		if err != nil {
			log.Printf("[session] %s start pipeline: %v", s.id, err)
			s.fail("stt_error", "Speech recognition unavailable: "+err.Error(), false)
			return
		}
		s.pipeline = pipeline
		s.pipelineReady = false
		log.Printf("[session] %s transcription pipeline started", s.id)
	}

	if !s.pipelineReady {
		s.bufferAudio(audioChunk{data: data, final: p.Final})
		return
	}
	s.sendAudio(audioChunk{data: data, final: p.Final})
}

// bufferAudio keeps at most AudioBufferLimit chunks, dropping the oldest.
func (s *Session) bufferAudio(chunk audioChunk) {
	if len(s.audioBuf) >= s.settings.AudioBufferLimit {
		dropped := len(s.audioBuf) - s.settings.AudioBufferLimit + 1
		s.audioBuf = append(s.audioBuf[:0], s.audioBuf[dropped:]...)
		log.Printf("[session] %s audio buffer full, dropped %d chunk(s)", s.id, dropped)
	}
	s.audioBuf = append(s.audioBuf, chunk)
}

func (s *Session) flushAudio() {
	buffered := s.audioBuf
	s.audioBuf = nil
	for _, chunk := range buffered {
		if !s.sendAudio(chunk) {
			return
		}
	}
}

func (s *Session) sendAudio(chunk audioChunk) bool {
	if err := s.pipeline.Send(chunk.data, chunk.final); err != nil {
		log.Printf("[session] %s pipeline send: %v", s.id, err)
		s.releasePipeline()
		s.fail("stt_error", "Speech recognition stopped: "+err.Error(), true)
		return false
	}
	return true
}

func (s *Session) releasePipeline() {
	if s.pipeline == nil {
		return
	}
	_ = s.pipeline.Close()
	s.pipeline = nil
	s.pipelineReady = false
	s.audioBuf = nil
}

func (s *Session) onSegment(r speech.Result) {
	if r.Err != nil {
		s.deps.Metrics.ObserveTranscription("", r.Err)
		if !s.pipelineReady {
			// 启动失败，下一个音频块会重新创建管道
			s.releasePipeline()
		}
		s.fail("stt_error", "Transcription failed: "+r.Err.Error(), true)
		return
	}
	if r.Segment == nil {
		return
	}
	s.deps.Metrics.ObserveTranscription(r.Segment.Engine, nil)
	s.onTranscript(r.Segment.Text, "audio", r.Segment.Engine)
}
