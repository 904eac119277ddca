package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dejaview/pinboard/pkg/log"
)

const extractionPrompt = `Extract and return ONLY the following item from this image: %s

Requirements:
- Return the item as a standalone image
- Use a transparent background (PNG with alpha channel)
- Preserve the item's original colors, textures and proportions
- Remove everything else: background, other objects, shadows cast on surroundings
- Center the item in the frame`

// Config holds the configuration for the Gemini image client.
type Config struct {
	APIKey     string `json:"api_key"`
	APIURL     string `json:"api_url"`
	ImageModel string `json:"image_model"`
	Timeout    int    `json:"timeout"`
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.ImageModel == "" {
		return fmt.Errorf("image model is required")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// Client performs one-shot image generation: input image plus an item
// description in, transparent PNG of just that item out.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

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

// generateContent request/response shapes, REST camelCase.

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// IsolateOptions carries per-request overrides.
type IsolateOptions struct {
	Model string
}

// ExtractItem returns a transparent PNG of just the described item, generated
// from the source image. Fails when the model returns no image part.
func (c *Client) ExtractItem(ctx context.Context, imageBytes []byte, itemDescription string, opts *IsolateOptions) ([]byte, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("image bytes are required")
	}
	if strings.TrimSpace(itemDescription) == "" {
		return nil, fmt.Errorf("item description is required")
	}

	model := c.config.ImageModel
	if opts != nil && opts.Model != "" {
		model = opts.Model
	}

	request := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: fmt.Sprintf(extractionPrompt, itemDescription)},
				{InlineData: &inlineData{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(imageBytes),
				}},
			},
		}},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	log.Debug("Generating isolated item image: model=%s item=%q", model, itemDescription)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var generated generateResponse
	if err := json.Unmarshal(responseBody, &generated); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if generated.Error != nil && generated.Error.Message != "" {
		return nil, fmt.Errorf("Gemini API error (%s): %s", generated.Error.Status, generated.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("Gemini request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	return firstInlineImage(generated)
}

// firstInlineImage walks the candidate parts and decodes the first inline
// image payload.
func firstInlineImage(resp generateResponse) ([]byte, error) {
	for _, candidate := range resp.Candidates {
		for _, p := range candidate.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode generated image: %w", err)
			}
			log.Debug("Generated isolated image: %d bytes (%s)", len(decoded), p.InlineData.MimeType)
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("no image in Gemini response")
}
