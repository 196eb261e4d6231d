package speech

// ASRRequest 语音识别请求。音频以字节形式保存，便于主引擎失败后交给备用引擎重试。
type ASRRequest struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"-"`
	Format    string `json:"format"`   // pcm, wav, webm, mp3 ...
	Language  string `json:"language"` // en-US, zh-CN ...
}

// MIMEType 把音频格式映射为 MIME 类型。
func (r *ASRRequest) MIMEType() string {
	switch r.Format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mp3"
	case "webm":
		return "audio/webm"
	case "ogg", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "pcm", "raw", "":
		return "audio/l16;rate=16000"
	default:
		return "audio/" + r.Format
	}
}
