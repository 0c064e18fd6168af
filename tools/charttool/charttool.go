// Package charttool persists model-generated Plotly figures so the
// surrounding UI can render them. The figure arrives as a JSON string;
// rendering itself is the UI's concern.
package charttool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/datavox/datavox/tool"
)

var Definition = tool.Definition{
	Name:        "nakresli_plotly_graf",
	Description: "Draws a Plotly chart from the provided JSON figure and shows it with an accompanying message.",
	Parameters: tool.Parameters{
		Type: "object",
		Properties: tool.Properties{
			"sprava": {
				Type:        "string",
				Description: "The message to display next to the chart.",
			},
			"plotly_json_fig": {
				Type:        "string",
				Description: "A JSON string representing the Plotly figure to draw.",
			},
			"nazov_suboru": {
				Type:        "string",
				Description: "Optional file name for the stored chart, without extension. Generated when absent.",
			},
		},
		Required: []string{"sprava", "plotly_json_fig"},
	},
}

type Renderer struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("charttool: create chart dir: %w", err)
	}
	return &Renderer{dir: dir, logger: logger}, nil
}

func (r *Renderer) Handler() tool.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		message, _ := args["sprava"].(string)
		figure, _ := args["plotly_json_fig"].(string)
		if figure == "" {
			return nil, fmt.Errorf("missing parameter %q", "plotly_json_fig")
		}
		if !json.Valid([]byte(figure)) {
			return nil, fmt.Errorf("plotly figure is not valid JSON")
		}

		name, _ := args["nazov_suboru"].(string)
		name = sanitizeName(name)
		if name == "" {
			name = "graf_" + uuid.NewString()
		}

		path := filepath.Join(r.dir, name+".json")
		if err := os.WriteFile(path, []byte(figure), 0o644); err != nil {
			return nil, fmt.Errorf("store chart: %w", err)
		}

		r.logger.Info("charttool: chart stored", slog.String("path", path))
		return map[string]any{
			"message":    message,
			"image_path": path,
		}, nil
	}
}

// sanitizeName strips path separators so the model cannot write
// outside the chart directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.TrimSuffix(name, ".json")
	name = filepath.Base(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
