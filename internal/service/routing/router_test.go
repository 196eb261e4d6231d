package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/wieesion/backend/internal/service/ai"
)

func newTestRouter() *Router {
	catalog := ai.NewCatalog(
		ai.ProviderInfo{Name: "ark", DefaultModel: "doubao-pro", VisionModel: "doubao-vision", Models: []ai.ModelInfo{
			{ID: "doubao-pro"}, {ID: "doubao-lite"}, {ID: "doubao-vision", Vision: true},
		}},
		ai.ProviderInfo{Name: "gemini", DefaultModel: "gemini-2.5-flash", Models: []ai.ModelInfo{
			{ID: "gemini-2.5-flash", Vision: true}, {ID: "gemini-1.5-pro", Vision: true},
		}},
		ai.ProviderInfo{Name: "textonly", DefaultModel: "t1", Models: []ai.ModelInfo{{ID: "t1"}}},
	)
	return New(catalog, map[Mode]Target{
		ModeGeneral:  {Provider: "ark", Model: "doubao-pro"},
		ModeCoding:   {Provider: "ark"},
		ModeDocument: {Provider: "gemini", Model: "gemini-2.5-flash"},
	})
}

func TestResolve(t *testing.T) {
	r := newTestRouter()

	cases := []struct {
		name     string
		sel      Selection
		image    bool
		provider string
		model    string
		sub      bool
	}{
		{"mode default", Selection{Mode: ModeGeneral}, false, "ark", "doubao-pro", false},
		{"empty default model uses catalog", Selection{Mode: ModeCoding}, false, "ark", "doubao-pro", false},
		{"document mode", Selection{Mode: ModeDocument}, false, "gemini", "gemini-2.5-flash", false},
		{"unknown mode falls back", Selection{Mode: "poetry"}, false, "ark", "doubao-pro", false},
		{"provider override", Selection{Mode: ModeGeneral, Provider: "gemini"}, false, "gemini", "gemini-2.5-flash", false},
		{"model override", Selection{Mode: ModeGeneral, Model: "doubao-lite"}, false, "ark", "doubao-lite", false},
		{"provider and model override", Selection{Mode: ModeDocument, Provider: "gemini", Model: "gemini-1.5-pro"}, false, "gemini", "gemini-1.5-pro", false},
		{"vision substitution", Selection{Mode: ModeGeneral}, true, "ark", "doubao-vision", true},
		{"vision model kept", Selection{Mode: ModeGeneral, Model: "doubao-vision"}, true, "ark", "doubao-vision", false},
		{"gemini needs no substitution", Selection{Mode: ModeGeneral, Provider: "gemini"}, true, "gemini", "gemini-2.5-flash", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(tc.sel, tc.image)
			require.NoError(t, err)
			assert.Equal(t, tc.provider, got.Provider)
			assert.Equal(t, tc.model, got.Model)
			assert.Equal(t, tc.sub, got.Substituted)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r := newTestRouter()

	_, err := r.Resolve(Selection{Mode: ModeGeneral, Provider: "textonly"}, true)
	assert.ErrorIs(t, err, ErrNoVision)

	_, err = r.Resolve(Selection{Mode: ModeGeneral, Provider: "openai"}, false)
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Coding ")
	require.NoError(t, err)
	assert.Equal(t, ModeCoding, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, m)

	_, err = ParseMode("karaoke")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
