package trellis

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

// Config holds the configuration for the Replicate Trellis client.
type Config struct {
	APIToken       string `json:"api_token"`
	APIURL         string `json:"api_url"`
	TrellisVersion string `json:"trellis_version"`
	Timeout        int    `json:"timeout"`
}

func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("API token is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.TrellisVersion == "" {
		return fmt.Errorf("Trellis version is required")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// Client generates .glb 3D models from images through Replicate's Trellis
// model: create a prediction, poll it to a terminal state, return the model
// file URL.
type Client struct {
	config       *Config
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
}

func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			// Per-request timeout; the overall synthesis budget is enforced
			// by the polling deadline below.
			Timeout: 30 * time.Second,
		},
		pollInterval: 2 * time.Second,
	}, nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  any             `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// buildInput assembles the Trellis model input with the image as a base64
// data URI.
func buildInput(imageBytes []byte, mimeType string) map[string]any {
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageBytes))
	return map[string]any{
		"images":            []string{dataURI},
		"texture_size":      2048,
		"mesh_simplify":     0.9,
		"generate_model":    true,
		"save_gaussian_ply": false,
		"ss_sampling_steps": 38,
	}
}

// GenerateModel runs Trellis on the image and returns the URL of the
// generated .glb file. Transparent-background PNG input recommended.
func (c *Client) GenerateModel(ctx context.Context, imageBytes []byte) (string, error) {
	if len(imageBytes) == 0 {
		return "", fmt.Errorf("image bytes are required")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.Timeout)*time.Second)
	defer cancel()

	created, err := c.createPrediction(ctx, imageBytes)
	if err != nil {
		return "", err
	}
	log.Info("Created Trellis prediction %s", created.ID)

	final, err := c.waitForPrediction(ctx, created)
	if err != nil {
		return "", err
	}
	return modelURLFromOutput(final.Output)
}

func (c *Client) createPrediction(ctx context.Context, imageBytes []byte) (*prediction, error) {
	payload := map[string]any{
		"version": c.config.TrellisVersion,
		"input":   buildInput(imageBytes, "image/png"),
	}
	return c.doPredictionRequest(ctx, http.MethodPost, c.baseURL+"/predictions", payload)
}

// waitForPrediction polls until the prediction reaches a terminal state or
// the synthesis deadline passes.
func (c *Client) waitForPrediction(ctx context.Context, p *prediction) (*prediction, error) {
	current := p
	for {
		switch current.Status {
		case "succeeded":
			return current, nil
		case "failed", "canceled":
			return nil, fmt.Errorf("Trellis prediction %s %s: %v", current.ID, current.Status, current.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for Trellis prediction %s: %w", current.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}

		next, err := c.doPredictionRequest(ctx, http.MethodGet, c.baseURL+"/predictions/"+current.ID, nil)
		if err != nil {
			return nil, err
		}
		current = next
	}
}

func (c *Client) doPredictionRequest(ctx context.Context, method, url string, payload any) (*prediction, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var pred prediction
	if err := json.Unmarshal(responseBody, &pred); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := pred.Detail
		if detail == "" {
			detail = string(responseBody)
		}
		return nil, fmt.Errorf("Replicate request failed with status %d: %s", resp.StatusCode, detail)
	}
	return &pred, nil
}

// modelURLFromOutput extracts the model file URL. Trellis returns an object
// keyed by artifact name; older versions return the URL directly.
func modelURLFromOutput(output json.RawMessage) (string, error) {
	if len(output) == 0 {
		return "", fmt.Errorf("no output in Trellis prediction")
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(output, &byName); err == nil {
		raw, ok := byName["model_file"]
		if !ok {
			return "", fmt.Errorf("no model_file in Trellis output")
		}
		var url string
		if err := json.Unmarshal(raw, &url); err != nil || url == "" {
			return "", fmt.Errorf("unexpected model_file value in Trellis output")
		}
		return url, nil
	}

	var direct string
	if err := json.Unmarshal(output, &direct); err == nil && direct != "" {
		return direct, nil
	}
	return "", fmt.Errorf("unexpected Trellis output shape")
}
