package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
)

// Mode 是会话的工作模式，决定默认 provider/model。
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeCoding   Mode = "coding"
	ModeDocument Mode = "document"
)

var (
	ErrUnknownMode = errors.New("unknown mode")
	ErrNoVision    = errors.New("no vision-capable model for provider")
)

// ParseMode 解析模式名称，空值视为 general。
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeGeneral, nil
	case ModeGeneral, ModeCoding, ModeDocument:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Target is the concrete backend selected for one call.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// Substituted is set when the model was swapped for a vision-capable one.
	Substituted bool `json:"substituted,omitempty"`
}

// Selection 是会话当前的显式选择，空字段表示沿用模式默认值。
type Selection struct {
	Mode     Mode
	Provider string
	Model    string
}

// Router resolves (mode, overrides, image) to a provider/model pair.
type Router struct {
	catalog  *ai.Catalog
	defaults map[Mode]Target
}

// New 创建路由器，defaults 中缺失的模式回退到 general。
func New(catalog *ai.Catalog, defaults map[Mode]Target) *Router {
	return &Router{catalog: catalog, defaults: defaults}
}

// Resolve picks the backend. An explicit provider override wins over the
// mode default; an explicit model override wins over the provider default.
// With an image attached, a model that cannot take images is replaced by
// the provider's vision model.
func (r *Router) Resolve(sel Selection, hasImage bool) (Target, error) {
	base, ok := r.defaults[sel.Mode]
	if !ok {
		base = r.defaults[ModeGeneral]
	}

	target := base
	if sel.Provider != "" && !strings.EqualFold(sel.Provider, base.Provider) {
		target = Target{Provider: strings.ToLower(sel.Provider)}
	}
	if sel.Model != "" {
		target.Model = sel.Model
	}
	if target.Provider == "" {
		return Target{}, fmt.Errorf("%w: no provider for mode %q", ai.ErrUnknownProvider, sel.Mode)
	}
	if target.Model == "" {
		def, err := r.catalog.Default(target.Provider)
		if err != nil {
			return Target{}, err
		}
		target.Model = def
	}

	if hasImage && !r.catalog.SupportsVision(target.Provider, target.Model) {
		vm, ok := r.catalog.VisionModel(target.Provider)
		if !ok {
			return Target{}, fmt.Errorf("%w: %s", ErrNoVision, target.Provider)
		}
		target.Model = vm
		target.Substituted = true
	}
	return target, nil
}

// Catalog 返回底层模型目录。
func (r *Router) Catalog() *ai.Catalog { return r.catalog }
