// Package imagetool generates images from text prompts through an
// OpenAI-compatible image generation HTTP API and stores them on disk
// for the UI to display.
package imagetool

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/datavox/datavox/tool"
)

const (
	DefaultEndpoint = "https://api.together.xyz/v1/images/generations"
	DefaultModel    = "black-forest-labs/FLUX.1-schnell"
)

var Definition = tool.Definition{
	Name:        "vytvor_obrazok",
	Description: "Generates an image from a text prompt and shows it to the user.",
	Parameters: tool.Parameters{
		Type: "object",
		Properties: tool.Properties{
			"prompt": {
				Type:        "string",
				Description: "A detailed description of the image to generate.",
			},
		},
		Required: []string{"prompt"},
	},
}

type Generator struct {
	apiKey     string
	endpoint   string
	model      string
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Generator)

func WithEndpoint(endpoint string) Option {
	return func(g *Generator) {
		g.endpoint = endpoint
	}
}

func WithModel(model string) Option {
	return func(g *Generator) {
		g.model = model
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(g *Generator) {
		g.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

func New(apiKey, dir string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("imagetool: missing api key")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagetool: create image dir: %w", err)
	}
	g := &Generator{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		model:      DefaultModel,
		dir:        dir,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"model":           g.model,
		"prompt":          prompt,
		"n":               1,
		"response_format": "b64_json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image request failed with status %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("image response contained no images")
	}
	return base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
}

func (g *Generator) Handler() tool.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		prompt, _ := args["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("missing parameter %q", "prompt")
		}

		g.logger.Info("imagetool: generating", slog.String("prompt", prompt))
		img, err := g.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}

		path := filepath.Join(g.dir, "obrazok_"+uuid.NewString()+".png")
		if err := os.WriteFile(path, img, 0o644); err != nil {
			return nil, fmt.Errorf("store image: %w", err)
		}

		return map[string]any{
			"message":    fmt.Sprintf("Image generated for prompt: %s", prompt),
			"image_path": path,
		}, nil
	}
}
