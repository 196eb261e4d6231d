package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/zhouzirui/wieesion/backend/internal/analysis/intent"
	"github.com/zhouzirui/wieesion/backend/internal/config"
	speechmodel "github.com/zhouzirui/wieesion/backend/internal/model/speech"
	"github.com/zhouzirui/wieesion/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	audioPath := flag.String("audio", "", "输入音频文件路径")
	format := flag.String("format", "", "音频格式，留空时按扩展名推断")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	engine := flag.String("engine", "chain", "识别引擎: chain、volcengine、gemini 或 mock")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if strings.TrimSpace(*audioPath) == "" {
		flag.Usage()
		log.Fatal("请通过 -audio 指定音频文件")
	}

	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		log.Fatalf("读取音频失败: %v", err)
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}
	if *format == "" {
		*format = strings.TrimPrefix(strings.ToLower(filepath.Ext(*audioPath)), ".")
	}
	if *language == "" {
		*language = cfg.Speech.ASRLanguage
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	transcriber, err := buildTranscriber(ctx, cfg, *engine)
	if err != nil {
		log.Fatalf("初始化识别引擎失败: %v", err)
	}

	log.Printf("[speechtester] engine=%s session=%s format=%s bytes=%d", transcriber.Name(), sessionID, *format, len(audio))
	start := time.Now()
	resp, err := transcriber.Transcribe(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		Audio:     audio,
		Format:    *format,
		Language:  *language,
	})
	if err != nil {
		log.Fatalf("识别失败: %v", err)
	}

	decision := intent.Evaluate(resp.Text)
	fmt.Printf("engine:      %s\n", resp.Engine)
	fmt.Printf("elapsed:     %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("transcript:  %s\n", resp.Text)
	fmt.Printf("disposition: %s (%s)\n", decision.Disposition, decision.Rule)
}

func buildTranscriber(ctx context.Context, cfg *config.Config, engine string) (speech.Transcriber, error) {
	var volc *speech.VolcengineASR
	if cfg.Speech.Enabled {
		volc = speech.NewVolcengineASR(&speechmodel.SpeechConfig{
			AppID:       cfg.Speech.AppID,
			AccessToken: cfg.Speech.AccessToken,
			APIKey:      cfg.Speech.APIKey,
			Region:      cfg.Speech.Region,
			BaseURL:     cfg.Speech.BaseURL,
			ASRModel:    cfg.Speech.ASRModel,
			ASRLanguage: cfg.Speech.ASRLanguage,
			Timeout:     cfg.Speech.Timeout,
		})
	}

	var gemini *speech.GeminiTranscriber
	if cfg.Gemini.Enabled() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Gemini.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		gemini = speech.NewGeminiTranscriber(client.Models, cfg.Gemini.TranscribeModel)
	}

	switch engine {
	case "chain":
		return speech.Engines{Volcengine: volc, Gemini: gemini, Mock: cfg.Speech.Mock}.Build(), nil
	case "volcengine":
		if volc == nil {
			return nil, fmt.Errorf("volcengine 未配置，请设置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
		}
		return volc, nil
	case "gemini":
		if gemini == nil {
			return nil, fmt.Errorf("gemini 未配置，请设置 GEMINI_API_KEY")
		}
		return gemini, nil
	case "mock":
		return &speech.MockTranscriber{}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}
