package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dejaview/pinboard/pkg/log"
)

const analysisPrompt = `You are an expert interior designer and furniture analyst. Analyze this Pinterest pin image and extract the dominant furniture or decor item.

Context from Pinterest:
- Title: %s
- Description: %s

Your task:
1. Identify the single most prominent furniture/decor item in the image.
2. Generate a concise but detailed description of that item suitable for a 3D model generator: shape, style, materials, colors.
3. Identify the room type if possible (living room, bedroom, kitchen, etc.)

You MUST respond with valid JSON matching this exact schema:
{
  "main_item": "short search-style name, e.g. 'teal velvet sofa'",
  "description": "detailed description for 3D generation",
  "room_type": "living_room or null",
  "style": "style description or null",
  "materials": ["detected materials"],
  "colors": ["detected colors"],
  "confidence": 0.95
}

Respond ONLY with the JSON object, no markdown, no explanation.`

// Client analyzes pin images through an OpenAI-compatible chat completions
// API with vision input. Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new analysis client with the given configuration
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// AnalyzePin analyzes a pin image and returns structured furniture data.
// Title and description are optional Pinterest context; opts may override the
// configured model and token cap for a single request.
func (c *Client) AnalyzePin(ctx context.Context, imageURL, title, description string, opts *AnalyzeOptions) (*PinAnalysis, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("image URL is required")
	}

	model := c.config.Model
	maxTokens := c.config.MaxOutputTokens
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.MaxOutputTokens > 0 {
			maxTokens = opts.MaxOutputTokens
		}
	}

	prompt := fmt.Sprintf(analysisPrompt, orNone(title), orNone(description))
	request := ChatRequest{
		Model: model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					textPart(prompt),
					imagePart(imageURL),
				},
			},
		},
		MaxTokens:   maxTokens,
		Temperature: c.config.Temperature,
	}

	log.Debug("Analyzing pin image with model %s: %s", model, imageURL)

	response, err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", request)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in analysis response")
	}

	return parseAnalysis(response.Choices[0].Message.Content)
}

// parseAnalysis decodes the model output into a PinAnalysis, tolerating
// markdown code fences around the JSON.
func parseAnalysis(content string) (*PinAnalysis, error) {
	cleaned := stripCodeFences(content)
	if cleaned == "" {
		return nil, fmt.Errorf("empty analysis response")
	}

	var analysis PinAnalysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis JSON: %w", err)
	}
	if analysis.MainItem == "" || analysis.Description == "" {
		return nil, fmt.Errorf("analysis missing required fields: %q", cleaned)
	}
	return &analysis, nil
}

// stripCodeFences removes a ```json ... ``` wrapper if the model added one.
func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

// makeRequest makes a raw HTTP request to the configured LLM API
func (c *Client) makeRequest(ctx context.Context, method, path string, payload interface{}) (*ChatResponse, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseBody, &chatResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return &chatResponse, chatResponse.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chatResponse, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	return &chatResponse, nil
}
