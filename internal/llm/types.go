package llm

import "fmt"

// Message represents a chat message. Content is a list of parts so a single
// user turn can carry both the analysis prompt and the pin image.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one element of a multimodal message.
// Type is "text" or "image_url".
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

type ImageRef struct {
	URL string `json:"url"`
}

func textPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

func imagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageRef{URL: url}}
}

// ChatRequest represents a chat completion request.
// Compatible with the OpenAI API format.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse represents a chat completion response.
// Compatible with the OpenAI API format.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Error   *Error   `json:"error,omitempty"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is an assistant message; unlike requests, content comes
// back as a plain string.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("LLM API error (%s): %s", e.Type, e.Message)
}

// PinAnalysis is the structured result of analyzing one pin image.
// MainItem is the short search-style name of the dominant furniture or decor
// item; Description is the detailed text handed to downstream 3D generation.
type PinAnalysis struct {
	MainItem    string   `json:"main_item"`
	Description string   `json:"description"`
	RoomType    string   `json:"room_type,omitempty"`
	Style       string   `json:"style,omitempty"`
	Materials   []string `json:"materials,omitempty"`
	Colors      []string `json:"colors,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// AnalyzeOptions carries per-request overrides of the configured defaults.
type AnalyzeOptions struct {
	Model           string
	MaxOutputTokens int
}
