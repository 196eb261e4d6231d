package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	AI      AIConfig
	Gemini  GeminiConfig
	Speech  SpeechConfig
	Limits  LimitsConfig
	Cache   CacheConfig
	Session SessionConfig
	Modes   map[string]ModeDefault
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	gemini, err := loadGeminiConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	limits, err := loadLimitsConfig()
	if err != nil {
		return nil, err
	}

	cache, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Auth:    loadAuthConfig(),
		AI:      ai,
		Gemini:  gemini,
		Speech:  speech,
		Limits:  limits,
		Cache:   cache,
		Session: session,
		Modes:   loadModes(ai, gemini),
	}, nil
}

// Mode 返回某个运行模式的默认 provider/model。
func (c *Config) Mode(name string) (ModeDefault, bool) {
	mode, ok := c.Modes[strings.ToLower(strings.TrimSpace(name))]
	return mode, ok
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AuthConfig 描述连接鉴权配置。
type AuthConfig struct {
	JWTSecret     string
	TrustedTokens []string
}

var defaultTrustedTokens = []string{
	"test-token-for-development",
	"desktop-app-token",
	"extension-user-token",
}

func loadAuthConfig() AuthConfig {
	tokens := defaultTrustedTokens
	if raw := strings.TrimSpace(os.Getenv("AUTH_TRUSTED_TOKENS")); raw != "" {
		tokens = splitList(raw)
	}
	return AuthConfig{
		JWTSecret:     getEnvOrDefault("JWT_SECRET", "your-secret-key-change-in-production"),
		TrustedTokens: tokens,
	}
}

// AIConfig 描述 Ark 大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	Models      []string
	VisionModel string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置为指定模型创建一个实例，modelName 为空时使用默认模型。
func (c AIConfig) NewChatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}
	if modelName == "" {
		modelName = c.Model
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	// 兼容旧变量名 Model
	modelName := getEnvOrDefault("ARK_MODEL", strings.TrimSpace(os.Getenv("Model")))
	models := splitList(os.Getenv("ARK_MODELS"))
	if modelName != "" && !contains(models, modelName) {
		models = append([]string{modelName}, models...)
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       modelName,
		Models:      models,
		VisionModel: getEnvOrDefault("ARK_VISION_MODEL", "doubao-1-5-vision-pro-32k-250115"),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// GeminiConfig 描述 Gemini 相关配置。
type GeminiConfig struct {
	APIKey          string
	Model           string
	Models          []string
	TranscribeModel string
	MaxOutputTokens int
}

// Enabled 表示 Gemini 是否可用。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadGeminiConfig() (GeminiConfig, error) {
	maxTokens := 2048
	if override, err := parseOptionalIntEnv("GEMINI_MAX_OUTPUT_TOKENS"); err != nil {
		return GeminiConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return GeminiConfig{}, fmt.Errorf("invalid GEMINI_MAX_OUTPUT_TOKENS value: %d", *override)
		}
		maxTokens = *override
	}

	modelName := getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash")
	models := splitList(getEnvOrDefault("GEMINI_MODELS", "gemini-2.5-flash,gemini-1.5-pro"))
	if !contains(models, modelName) {
		models = append([]string{modelName}, models...)
	}

	return GeminiConfig{
		APIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:           modelName,
		Models:          models,
		TranscribeModel: getEnvOrDefault("GEMINI_TRANSCRIBE_MODEL", modelName),
		MaxOutputTokens: maxTokens,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID        string
	AccessToken  string
	APIKey       string
	AccessKey    string
	SecretKey    string
	Region       string
	BaseURL      string
	ASRModel     string
	ASRLanguage  string
	Timeout      int
	SegmentBytes int
	Mock         bool
	Enabled      bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	// 16kHz 16bit 单声道约 3 秒
	segmentBytes := 96000
	if override, err := parseOptionalIntEnv("SPEECH_SEGMENT_BYTES"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SpeechConfig{}, fmt.Errorf("invalid SPEECH_SEGMENT_BYTES value: %d", *override)
		}
		segmentBytes = *override
	}

	mock, err := parseBoolEnv("SPEECH_MOCK", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	accessKey := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("SPEECH_SECRET_KEY"))

	// 如果没有专门的语音配置，尝试使用AI配置
	if accessToken == "" && accessKey == "" {
		accessToken = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		apiKey = accessToken
		accessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		secretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
	}

	return SpeechConfig{
		AppID:        appID,
		AccessToken:  accessToken,
		APIKey:       apiKey,
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		Region:       getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		BaseURL:      getEnvOrDefault("SPEECH_BASE_URL", ""),
		ASRModel:     getEnvOrDefault("SPEECH_ASR_MODEL", ""),
		ASRLanguage:  getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		Timeout:      timeoutSeconds,
		SegmentBytes: segmentBytes,
		Mock:         mock,
		Enabled:      appID != "" && accessToken != "",
	}, nil
}

// ProviderLimit 是单个 provider 的两档窗口上限。
type ProviderLimit struct {
	PerMinute int
	PerHour   int
}

// LimitsConfig 描述 provider 级别的限流配置。
type LimitsConfig struct {
	Providers map[string]ProviderLimit
}

var defaultLimits = map[string]ProviderLimit{
	"ark":    {PerMinute: 30, PerHour: 500},
	"gemini": {PerMinute: 15, PerHour: 300},
}

func loadLimitsConfig() (LimitsConfig, error) {
	providers := make(map[string]ProviderLimit, len(defaultLimits))
	for name, limit := range defaultLimits {
		prefix := "RATE_LIMIT_" + strings.ToUpper(name)

		minute, err := parseOptionalIntEnv(prefix + "_MINUTE")
		if err != nil {
			return LimitsConfig{}, err
		}
		if minute != nil {
			if *minute < 1 {
				return LimitsConfig{}, fmt.Errorf("invalid %s_MINUTE value: %d", prefix, *minute)
			}
			limit.PerMinute = *minute
		}

		hour, err := parseOptionalIntEnv(prefix + "_HOUR")
		if err != nil {
			return LimitsConfig{}, err
		}
		if hour != nil {
			if *hour < 1 {
				return LimitsConfig{}, fmt.Errorf("invalid %s_HOUR value: %d", prefix, *hour)
			}
			limit.PerHour = *hour
		}

		providers[name] = limit
	}
	return LimitsConfig{Providers: providers}, nil
}

// CacheConfig 描述响应缓存配置，RedisAddr 为空时使用进程内存储。
type CacheConfig struct {
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

func loadCacheConfig() (CacheConfig, error) {
	ttl := time.Hour
	if seconds, err := parseOptionalIntEnv("CACHE_TTL_SECONDS"); err != nil {
		return CacheConfig{}, err
	} else if seconds != nil {
		if *seconds < 1 {
			return CacheConfig{}, fmt.Errorf("invalid CACHE_TTL_SECONDS value: %d", *seconds)
		}
		ttl = time.Duration(*seconds) * time.Second
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return CacheConfig{}, err
	} else if override != nil {
		db = *override
	}

	return CacheConfig{
		TTL:           ttl,
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		KeyPrefix:     getEnvOrDefault("CACHE_KEY_PREFIX", "wieesion:answer:"),
	}, nil
}

// SessionConfig 描述单个连接会话的运行参数。
type SessionConfig struct {
	HistoryCapacity  int
	AudioBufferLimit int
	DocumentTimeout  time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{
		HistoryCapacity:  10,
		AudioBufferLimit: 50,
		DocumentTimeout:  60 * time.Second,
		RetryAttempts:    3,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    10 * time.Second,
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SESSION_HISTORY_CAPACITY", &cfg.HistoryCapacity},
		{"SESSION_AUDIO_BUFFER_LIMIT", &cfg.AudioBufferLimit},
		{"AI_RETRY_ATTEMPTS", &cfg.RetryAttempts},
	}
	for _, item := range ints {
		val, err := parseOptionalIntEnv(item.key)
		if err != nil {
			return SessionConfig{}, err
		}
		if val == nil {
			continue
		}
		if *val < 1 {
			return SessionConfig{}, fmt.Errorf("invalid %s value: %d", item.key, *val)
		}
		*item.dst = *val
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DOCUMENT_TIMEOUT", &cfg.DocumentTimeout},
		{"AI_RETRY_BASE_DELAY", &cfg.RetryBaseDelay},
		{"AI_RETRY_MAX_DELAY", &cfg.RetryMaxDelay},
	}
	for _, item := range durations {
		val, err := parseOptionalDurationEnv(item.key)
		if err != nil {
			return SessionConfig{}, err
		}
		if val != nil {
			*item.dst = *val
		}
	}

	return cfg, nil
}

// ModeDefault 是某个运行模式的默认 provider/model 组合。
type ModeDefault struct {
	Provider string
	Model    string
}

func loadModes(ai AIConfig, gemini GeminiConfig) map[string]ModeDefault {
	chatDefault := ModeDefault{Provider: "ark", Model: ai.Model}
	// 没有 Ark 凭证时退回到 Gemini
	if !ai.Enabled() && gemini.Enabled() {
		chatDefault = ModeDefault{Provider: "gemini", Model: gemini.Model}
	}

	return map[string]ModeDefault{
		"general":  chatDefault,
		"coding":   chatDefault,
		"document": {Provider: "gemini", Model: gemini.Model},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val <= 0 {
		return nil, fmt.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return &val, nil
}
