package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/wieesion/backend/internal/config"
)

func testCatalog() *Catalog {
	return NewCatalog(
		ProviderInfo{Name: "ark", DefaultModel: "doubao-pro", VisionModel: "doubao-vision", Models: []ModelInfo{
			{ID: "doubao-pro"}, {ID: "doubao-vision", Vision: true},
		}, Available: true},
		ProviderInfo{Name: "gemini", Models: []ModelInfo{
			{ID: "gemini-2.5-flash", Vision: true}, {ID: "gemini-1.5-pro", Vision: true},
		}, Available: true},
	)
}

func TestCatalogLookups(t *testing.T) {
	c := testCatalog()

	def, err := c.Default("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", def)

	assert.NoError(t, c.Validate("ark", "doubao-pro"))
	assert.ErrorIs(t, c.Validate("ark", "gpt-4"), ErrUnknownModel)
	assert.ErrorIs(t, c.Validate("openai", "gpt-4"), ErrUnknownProvider)

	assert.False(t, c.SupportsVision("ark", "doubao-pro"))
	assert.True(t, c.SupportsVision("ark", "doubao-vision"))
	vm, ok := c.VisionModel("ark")
	assert.True(t, ok)
	assert.Equal(t, "doubao-vision", vm)

	names := []string{}
	for _, p := range c.Providers() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"ark", "gemini"}, names)
}

func TestCatalogFromConfig(t *testing.T) {
	cfg := &config.Config{
		AI:     config.AIConfig{APIKey: "k", Model: "doubao-pro", Models: []string{"doubao-pro"}, VisionModel: "doubao-vision"},
		Gemini: config.GeminiConfig{Model: "gemini-2.5-flash", Models: []string{"gemini-2.5-flash"}},
	}
	c := CatalogFromConfig(cfg)

	ark, err := c.Lookup("ARK")
	require.NoError(t, err)
	assert.True(t, ark.Available)
	assert.Len(t, ark.Models, 2)
	assert.True(t, c.SupportsVision("ark", "doubao-vision"))

	gemini, err := c.Lookup("gemini")
	require.NoError(t, err)
	assert.False(t, gemini.Available)
	assert.True(t, c.SupportsVision("gemini", "gemini-2.5-flash"))
}
