package charttool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const figure = `{"data": [{"type": "bar", "x": ["a"], "y": [1]}]}`

func newRenderer(t *testing.T) (*Renderer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "graphs")
	r, err := New(dir, nil)
	require.NoError(t, err)
	return r, dir
}

func TestHandlerStoresFigure(t *testing.T) {
	r, dir := newRenderer(t)

	out, err := r.Handler()(context.Background(), map[string]any{
		"sprava":          "here is your chart",
		"plotly_json_fig": figure,
		"nazov_suboru":    "sales",
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "here is your chart", result["message"])
	assert.Equal(t, filepath.Join(dir, "sales.json"), result["image_path"])

	data, err := os.ReadFile(result["image_path"].(string))
	require.NoError(t, err)
	assert.JSONEq(t, figure, string(data))
}

func TestHandlerGeneratesNameWhenAbsent(t *testing.T) {
	r, dir := newRenderer(t)

	out, err := r.Handler()(context.Background(), map[string]any{
		"sprava":          "m",
		"plotly_json_fig": figure,
	})
	require.NoError(t, err)

	path := out.(map[string]any)["image_path"].(string)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "graf_"))
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestHandlerRejectsInvalidFigure(t *testing.T) {
	r, _ := newRenderer(t)

	_, err := r.Handler()(context.Background(), map[string]any{
		"sprava":          "m",
		"plotly_json_fig": `{"data": `,
	})
	require.Error(t, err)

	_, err = r.Handler()(context.Background(), map[string]any{"sprava": "m"})
	require.Error(t, err)
}

func TestHandlerConfinesPathTraversal(t *testing.T) {
	r, dir := newRenderer(t)

	out, err := r.Handler()(context.Background(), map[string]any{
		"sprava":          "m",
		"plotly_json_fig": figure,
		"nazov_suboru":    "../../etc/evil",
	})
	require.NoError(t, err)

	path := out.(map[string]any)["image_path"].(string)
	assert.Equal(t, dir, filepath.Dir(path), "chart must stay inside the chart directory")
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "sales", sanitizeName(" sales "))
	assert.Equal(t, "sales", sanitizeName("sales.json"))
	assert.Equal(t, "a_b", sanitizeName("a/b"))
	assert.Equal(t, "", sanitizeName(""))
	assert.Equal(t, "", sanitizeName(".."))
	assert.Equal(t, "", sanitizeName("."))
}
