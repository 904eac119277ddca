package pipeline

import "github.com/dejaview/pinboard/internal/llm"

// ExtractionRequest asks for one pin image to become a stored 3D asset.
type ExtractionRequest struct {
	ImageURL        string `json:"image_url"`
	ItemDescription string `json:"item_description"`
	ImageModel      string `json:"model_image,omitempty"`
}

// ExtractionResult is the payload of a succeeded extraction job.
type ExtractionResult struct {
	SourceImageURL  string `json:"source_image_url"`
	ItemDescription string `json:"item_description"`
	ResultImageURL  string `json:"result_image_url"`
	ResultImageKey  string `json:"result_image_r2_key"`
	ModelGLBURL     string `json:"model_glb_url"`
	ModelGLBKey     string `json:"model_glb_r2_key"`
}

// ImageExtractionResult is the payload of the synchronous isolate-and-upload
// operation (no 3D stage).
type ImageExtractionResult struct {
	SourceImageURL  string `json:"source_image_url"`
	ItemDescription string `json:"item_description"`
	ResultImageURL  string `json:"result_image_url"`
	ObjectKey       string `json:"r2_object_key"`
	MimeType        string `json:"mime_type"`
}

// BoardAnalysisRequest asks for every pin on a board to be analyzed.
type BoardAnalysisRequest struct {
	BoardURL        string `json:"board_url"`
	MaxPins         int    `json:"max_pins"`
	LLMModel        string `json:"llm_model,omitempty"`
	MaxOutputTokens int    `json:"llm_max_output_tokens,omitempty"`
}

// PinOutcome is the per-pin result inside a board analysis: either an
// analysis or a skip with a reason, never both.
type PinOutcome struct {
	PinID          string           `json:"pin_id"`
	ImageURL       string           `json:"image_url"`
	Title          string           `json:"title,omitempty"`
	PinDescription string           `json:"pinterest_description,omitempty"`
	Analysis       *llm.PinAnalysis `json:"analysis,omitempty"`
	Skipped        bool             `json:"skipped"`
	SkipReason     string           `json:"skip_reason,omitempty"`
}

// BoardAnalysisResult is written back after every pin completes, so pollers
// see live progress. ItemsCompleted never decreases across writes.
type BoardAnalysisResult struct {
	BoardURL       string       `json:"board_url"`
	ItemsTotal     int          `json:"items_total"`
	ItemsCompleted int          `json:"items_completed"`
	NumAnalyzed    int          `json:"num_pins_analyzed"`
	NumSkipped     int          `json:"num_pins_skipped"`
	Pins           []PinOutcome `json:"pins"`
}
