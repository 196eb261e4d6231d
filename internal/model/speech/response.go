package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	Engine     string    `json:"engine"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Segment 是流式管道产出的一段最终识别结果。
type Segment struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Engine    string    `json:"engine"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}
