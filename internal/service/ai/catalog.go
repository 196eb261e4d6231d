package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/wieesion/backend/internal/config"
)

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID     string `json:"id"`
	Vision bool   `json:"vision"`
}

// ProviderInfo describes a provider's models and defaults.
type ProviderInfo struct {
	Name         string      `json:"name"`
	DefaultModel string      `json:"defaultModel"`
	VisionModel  string      `json:"visionModel,omitempty"`
	Models       []ModelInfo `json:"models"`
	Available    bool        `json:"available"`
}

// Catalog is the static list of providers and models clients may choose.
type Catalog struct {
	order     []string
	providers map[string]ProviderInfo
}

// NewCatalog 以给定顺序构建目录。
func NewCatalog(infos ...ProviderInfo) *Catalog {
	c := &Catalog{providers: make(map[string]ProviderInfo, len(infos))}
	for _, info := range infos {
		name := strings.ToLower(info.Name)
		info.Name = name
		if info.DefaultModel == "" && len(info.Models) > 0 {
			info.DefaultModel = info.Models[0].ID
		}
		if _, exists := c.providers[name]; !exists {
			c.order = append(c.order, name)
		}
		c.providers[name] = info
	}
	return c
}

// CatalogFromConfig builds the ark and gemini entries from configuration.
func CatalogFromConfig(cfg *config.Config) *Catalog {
	ark := ProviderInfo{
		Name:         "ark",
		DefaultModel: cfg.AI.Model,
		VisionModel:  cfg.AI.VisionModel,
		Available:    cfg.AI.Enabled(),
	}
	for _, id := range cfg.AI.Models {
		ark.Models = append(ark.Models, ModelInfo{ID: id, Vision: id == cfg.AI.VisionModel || strings.Contains(id, "vision")})
	}
	if cfg.AI.VisionModel != "" && !hasModel(ark.Models, cfg.AI.VisionModel) {
		ark.Models = append(ark.Models, ModelInfo{ID: cfg.AI.VisionModel, Vision: true})
	}

	gemini := ProviderInfo{
		Name:         "gemini",
		DefaultModel: cfg.Gemini.Model,
		VisionModel:  cfg.Gemini.Model,
		Available:    cfg.Gemini.Enabled(),
	}
	// Gemini 的所有模型都支持图片输入
	for _, id := range cfg.Gemini.Models {
		gemini.Models = append(gemini.Models, ModelInfo{ID: id, Vision: true})
	}

	return NewCatalog(ark, gemini)
}

// Providers 返回全部 provider 信息（按注册顺序）。
func (c *Catalog) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.providers[name])
	}
	return out
}

// Lookup 查找 provider。
func (c *Catalog) Lookup(provider string) (ProviderInfo, error) {
	info, ok := c.providers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return ProviderInfo{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return info, nil
}

// Default 返回 provider 的默认模型。
func (c *Catalog) Default(provider string) (string, error) {
	info, err := c.Lookup(provider)
	if err != nil {
		return "", err
	}
	return info.DefaultModel, nil
}

// Validate checks that model belongs to provider.
func (c *Catalog) Validate(provider, model string) error {
	info, err := c.Lookup(provider)
	if err != nil {
		return err
	}
	if !hasModel(info.Models, model) {
		return fmt.Errorf("%w: %q for provider %s", ErrUnknownModel, model, info.Name)
	}
	return nil
}

// SupportsVision reports whether provider/model accepts images.
func (c *Catalog) SupportsVision(provider, model string) bool {
	info, err := c.Lookup(provider)
	if err != nil {
		return false
	}
	for _, m := range info.Models {
		if m.ID == model {
			return m.Vision
		}
	}
	return false
}

// VisionModel returns the provider's designated vision-capable model.
func (c *Catalog) VisionModel(provider string) (string, bool) {
	info, err := c.Lookup(provider)
	if err != nil || info.VisionModel == "" {
		return "", false
	}
	return info.VisionModel, true
}

func hasModel(models []ModelInfo, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
