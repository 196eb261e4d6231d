package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/zhouzirui/wieesion/backend/internal/config"
	"github.com/zhouzirui/wieesion/backend/internal/handler"
	"github.com/zhouzirui/wieesion/backend/internal/model/persona"
	speechModel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
	"github.com/zhouzirui/wieesion/backend/internal/service/auth"
	"github.com/zhouzirui/wieesion/backend/internal/service/cache"
	"github.com/zhouzirui/wieesion/backend/internal/service/chat"
	"github.com/zhouzirui/wieesion/backend/internal/service/document"
	"github.com/zhouzirui/wieesion/backend/internal/service/metrics"
	"github.com/zhouzirui/wieesion/backend/internal/service/ratelimit"
	"github.com/zhouzirui/wieesion/backend/internal/service/routing"
	"github.com/zhouzirui/wieesion/backend/internal/service/session"
	"github.com/zhouzirui/wieesion/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	m := metrics.New("wieesion")

	// Gemini 客户端同时服务问答和备用语音识别
	var geminiClient *genai.Client
	if cfg.Gemini.Enabled() {
		geminiClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Gemini.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			log.Printf("warning: failed to initialize Gemini client: %v", err)
			geminiClient = nil
		} else {
			log.Println("Gemini client initialized successfully")
		}
	} else {
		log.Println("GEMINI_API_KEY 未配置，跳过 Gemini 初始化")
	}

	registry := ai.NewRegistry()
	if cfg.AI.Enabled() {
		registry.Register(ai.NewArkProvider(cfg.AI.NewChatModel))
		log.Println("Ark provider registered")
	} else {
		log.Println("Ark 凭证未配置，跳过 Ark provider")
	}
	if geminiClient != nil {
		registry.Register(ai.NewGeminiProvider(geminiClient.Models, cfg.Gemini.MaxOutputTokens))
		log.Println("Gemini provider registered")
	}

	limits := make(map[string]ratelimit.Limit, len(cfg.Limits.Providers))
	for name, l := range cfg.Limits.Providers {
		limits[name] = ratelimit.Limit{PerMinute: l.PerMinute, PerHour: l.PerHour}
	}
	limiter := ratelimit.New(limits)

	answerCache, closeCache := newAnswerCache(ctx, cfg.Cache)
	defer closeCache()

	aiService := ai.NewService(registry, ai.Options{
		Limiter: limiter,
		Cache:   answerCache,
		Retry: ai.RetryPolicy{
			Attempts:  cfg.Session.RetryAttempts,
			BaseDelay: cfg.Session.RetryBaseDelay,
			MaxDelay:  cfg.Session.RetryMaxDelay,
		},
		Observer: m,
	})

	catalog := ai.CatalogFromConfig(cfg)
	modes := make(map[routing.Mode]routing.Target, len(cfg.Modes))
	for name, def := range cfg.Modes {
		mode, err := routing.ParseMode(name)
		if err != nil {
			log.Printf("warning: ignoring unknown mode %q", name)
			continue
		}
		modes[mode] = routing.Target{Provider: def.Provider, Model: def.Model}
	}
	router := routing.New(catalog, modes)

	transcriber := newTranscriber(cfg, geminiClient)
	pipelines := speech.NewPipelineFactory(transcriber, speech.PipelineOptions{
		SegmentBytes: cfg.Speech.SegmentBytes,
		Format:       "pcm",
		Language:     cfg.Speech.ASRLanguage,
	})

	deps := session.Deps{
		AI:          aiService,
		Summarizer:  ai.NewSummarizer(aiService),
		Router:      router,
		Auth:        auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.TrustedTokens),
		Personas:    persona.NewMemoryStore(persona.Seed()),
		Pipelines:   pipelines,
		Transcriber: transcriber,
		Extractor:   document.BasicExtractor{},
		Registry:    chat.NewService(),
		Metrics:     m,
		Settings: session.Settings{
			HistoryCapacity:  cfg.Session.HistoryCapacity,
			AudioBufferLimit: cfg.Session.AudioBufferLimit,
			DocumentTimeout:  cfg.Session.DocumentTimeout,
			Language:         cfg.Speech.ASRLanguage,
		},
	}

	httpRouter := handler.NewRouter(handler.Services{
		Session:        deps,
		Limiter:        limiter,
		SpeechLanguage: cfg.Speech.ASRLanguage,
	})

	startServer(ctx, cfg.Server, httpRouter)
}

// newAnswerCache 配置了 REDIS_ADDR 时使用 Redis，连接失败则退回进程内存储。
func newAnswerCache(ctx context.Context, cfg config.CacheConfig) (*cache.Cache, func()) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		store, err := cache.NewRedisStore(pingCtx, client, cfg.KeyPrefix)
		cancel()
		if err == nil {
			log.Printf("answer cache backed by redis at %s", cfg.RedisAddr)
			return cache.New(store, cfg.TTL), func() { _ = store.Close() }
		}
		log.Printf("warning: redis unavailable, using in-memory cache: %v", err)
		_ = client.Close()
	}
	return cache.New(cache.NewMemoryStore(10000), cfg.TTL), func() {}
}

// newTranscriber 按凭证挑选识别引擎：火山引擎为主，Gemini 备用。
func newTranscriber(cfg *config.Config, geminiClient *genai.Client) speech.Transcriber {
	engines := speech.Engines{Mock: cfg.Speech.Mock}
	if cfg.Speech.Enabled {
		engines.Volcengine = speech.NewVolcengineASR(&speechModel.SpeechConfig{
			AppID:       cfg.Speech.AppID,
			AccessToken: cfg.Speech.AccessToken,
			APIKey:      cfg.Speech.APIKey,
			Region:      cfg.Speech.Region,
			BaseURL:     cfg.Speech.BaseURL,
			ASRModel:    cfg.Speech.ASRModel,
			ASRLanguage: cfg.Speech.ASRLanguage,
			Timeout:     cfg.Speech.Timeout,
		})
	} else {
		log.Println("语音服务凭证未配置，跳过火山引擎识别")
	}
	if geminiClient != nil {
		engines.Gemini = speech.NewGeminiTranscriber(geminiClient.Models, cfg.Gemini.TranscribeModel)
	}
	t := engines.Build()
	log.Printf("speech transcription chain: %s", t.Name())
	return t
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Wieesion backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
