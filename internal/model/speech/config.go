package speech

// SpeechConfig 火山引擎语音识别配置
type SpeechConfig struct {
	AppID          string `json:"appId"`            // 火山引擎 APP ID
	AccessToken    string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	Region         string `json:"region"`
	BaseURL        string `json:"baseUrl"`        // 为空时使用官方 SAUC 端点
	ConcurrentMode bool   `json:"concurrentMode"` // ASR并发模式（false为小时版）

	ASRModel    string `json:"asrModel"`
	ASRLanguage string `json:"asrLanguage"`

	Timeout int `json:"timeout"` // seconds
}
