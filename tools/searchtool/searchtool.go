// Package searchtool answers web search requests through the Tavily
// HTTP API.
package searchtool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/datavox/datavox/tool"
)

const DefaultEndpoint = "https://api.tavily.com/search"

var Definition = tool.Definition{
	Name:        "internet_search",
	Description: "Performs an internet search using the Tavily API.",
	Parameters: tool.Parameters{
		Type: "object",
		Properties: tool.Properties{
			"query": {
				Type:        "string",
				Description: "The search query to look up on the internet (e.g., 'What's the weather like in Madrid tomorrow?').",
			},
		},
		Required: []string{"query"},
	},
}

type Client struct {
	apiKey     string
	endpoint   string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func WithMaxResults(n int) Option {
	return func(c *Client) {
		c.maxResults = n
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("searchtool: missing api key")
	}
	c := &Client{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		maxResults: 5,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Answer  string         `json:"answer"`
	Results []searchResult `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string) (*searchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":        c.apiKey,
		"query":          query,
		"max_results":    c.maxResults,
		"include_answer": true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed with status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}

func (c *Client) Handler() tool.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("missing parameter %q", "query")
		}

		c.logger.Info("searchtool: searching", slog.String("query", query))
		resp, err := c.Search(ctx, query)
		if err != nil {
			return nil, err
		}

		results := make([]map[string]any, 0, len(resp.Results))
		for _, r := range resp.Results {
			results = append(results, map[string]any{
				"title":   r.Title,
				"url":     r.URL,
				"content": r.Content,
			})
		}
		return map[string]any{
			"answer":  resp.Answer,
			"results": results,
		}, nil
	}
}
