package imagetool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngStub = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "b64_json", req["response_format"])
		assert.NotEmpty(t, req["prompt"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"b64_json": base64.StdEncoding.EncodeToString(pngStub)},
			},
		})
	}))
}

func TestNewValidation(t *testing.T) {
	_, err := New("", t.TempDir())
	require.Error(t, err)
}

func TestHandlerStoresGeneratedImage(t *testing.T) {
	srv := imageServer(t)
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "images")
	g, err := New("key", dir, WithEndpoint(srv.URL))
	require.NoError(t, err)

	out, err := g.Handler()(context.Background(), map[string]any{"prompt": "a red apple"})
	require.NoError(t, err)

	result := out.(map[string]any)
	path := result["image_path"].(string)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "obrazok_"))
	assert.True(t, strings.HasSuffix(path, ".png"))
	assert.Contains(t, result["message"], "a red apple")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngStub, data)
}

func TestHandlerRequiresPrompt(t *testing.T) {
	g, err := New("key", t.TempDir())
	require.NoError(t, err)

	_, err = g.Handler()(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestGenerateEmptyDataIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	g, err := New("key", t.TempDir(), WithEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = g.Handler()(context.Background(), map[string]any{"prompt": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no images")
}

func TestGenerateNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g, err := New("key", t.TempDir(), WithEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = g.Handler()(context.Background(), map[string]any{"prompt": "x"})
	require.Error(t, err)
}
