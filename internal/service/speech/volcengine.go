package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
)

const (
	saucNoStreamURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	// 16kHz, 16bit, mono, 200ms = 6400 bytes
	audioChunkSize = 6400
)

// VolcengineASR 火山引擎大模型流式识别客户端，一次请求对应一条 WebSocket 连接。
type VolcengineASR struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
	url    string
	pace   time.Duration
}

// NewVolcengineASR 创建火山引擎ASR客户端
func NewVolcengineASR(config *speechmodel.SpeechConfig) *VolcengineASR {
	url := saucNoStreamURL
	if config != nil && strings.TrimSpace(config.BaseURL) != "" {
		url = strings.TrimSpace(config.BaseURL)
	}
	return &VolcengineASR{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		url:    url,
		pace:   200 * time.Millisecond,
	}
}

// Name 返回引擎名称。
func (c *VolcengineASR) Name() string { return "volcengine" }

type saucRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type saucResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// credentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func (c *VolcengineASR) credentials() (string, string, error) {
	if c.config == nil {
		return "", "", fmt.Errorf("火山引擎语音配置未初始化")
	}
	appID := strings.TrimSpace(c.config.AppID)
	token := strings.TrimSpace(c.config.AccessToken)
	if token == "" {
		token = strings.TrimSpace(c.config.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}
	return appID, token, nil
}

// Transcribe 发送完整音频并等待最终识别结果。
func (c *VolcengineASR) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	appID, token, err := c.credentials()
	if err != nil {
		return nil, err
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.config.Timeout)*time.Second)
		defer cancel()
	}

	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	defer conn.Close()
	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[speech] volcengine connected session=%s logid=%s", req.SessionID, logid)
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	first, err := newRequestFrame(body)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.marshal()); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 读写并发进行，服务端提前报错时可以及时停止发送
	type result struct {
		resp *speechmodel.ASRResponse
		err  error
	}
	recvCh := make(chan result, 1)
	go func() {
		r, err := c.receive(conn, req.SessionID)
		recvCh <- result{r, err}
	}()
	sendCh := make(chan error, 1)
	go func() {
		sendCh <- c.sendAudio(ctx, conn, req.Audio)
	}()

	for {
		select {
		case err := <-sendCh:
			if err != nil {
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			sendCh = nil
		case r := <-recvCh:
			return r.resp, r.err
		case <-ctx.Done():
			// 关闭连接以唤醒阻塞中的读取
			conn.Close()
			return nil, ctx.Err()
		}
	}
}

func (c *VolcengineASR) buildRequest(req *speechmodel.ASRRequest) *saucRequest {
	r := &saucRequest{}
	r.User.UID = req.SessionID

	r.Audio.Format = req.Format
	if r.Audio.Format == "" {
		r.Audio.Format = "pcm"
	}
	r.Audio.Language = req.Language
	if r.Audio.Language == "" {
		r.Audio.Language = c.config.ASRLanguage
	}
	r.Audio.Codec = "raw"
	r.Audio.Rate = 16000
	r.Audio.Bits = 16
	r.Audio.Channel = 1

	r.Request.ModelName = "bigmodel"
	if c.config.ASRModel != "" {
		r.Request.ModelName = c.config.ASRModel
	}
	r.Request.EnableITN = true
	r.Request.EnablePunc = true
	r.Request.ShowUtterances = true
	r.Request.ResultType = "full"
	r.Request.EndWindowSize = 800
	return r
}

// sendAudio 把音频切成 200ms 的包按实时速率发送，音频序号从 2 开始。
func (c *VolcengineASR) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	seq := int32(2)
	for i := 0; i < len(audio); i += audioChunkSize {
		end := i + audioChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		last := end >= len(audio)

		f, err := newAudioFrame(audio[i:end], seq, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.marshal()); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		seq++
		if last {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pace):
		}
	}
	return nil
}

func (c *VolcengineASR) receive(conn *websocket.Conn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}
		f, err := unmarshalFrame(data)
		if err != nil {
			return nil, err
		}

		switch f.Type {
		case frameServerError:
			payload, _ := f.payload()
			return nil, fmt.Errorf("ASR error %d: %s", f.ErrorCode, string(payload))

		case frameFullServerResponse:
			payload, err := f.payload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}
			var msg saucResponse
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.Printf("[speech] volcengine unmarshal response: %v", err)
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message)
			}

			candidate := msg.Result.Text
			if candidate == "" {
				parts := make([]string, 0, len(msg.Result.Utterances))
				for _, u := range msg.Result.Utterances {
					parts = append(parts, u.Text)
				}
				candidate = strings.Join(parts, " ")
			}
			if candidate != "" {
				text = candidate
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if f.isLast() || msg.Sequence < 0 {
				confidence := 0.0
				if strings.TrimSpace(text) != "" {
					confidence = 0.95
				}
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       text,
					Confidence: confidence,
					Duration:   duration,
					Engine:     c.Name(),
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}
