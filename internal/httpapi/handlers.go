package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dejaview/pinboard/internal/jobs"
	"github.com/dejaview/pinboard/internal/pipeline"
)

const (
	defaultMaxPins = 10
	maxPinsCeiling = 100
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

type analyzeRequest struct {
	BoardURL        string `json:"board_url"`
	MaxPins         int    `json:"max_pins"`
	LLMModel        string `json:"llm_model"`
	MaxOutputTokens int    `json:"llm_max_output_tokens"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !isHTTPURL(req.BoardURL) {
		writeError(w, http.StatusBadRequest, "board_url must be a valid HTTP(S) URL")
		return
	}
	if req.MaxPins <= 0 {
		req.MaxPins = defaultMaxPins
	}
	if req.MaxPins > maxPinsCeiling {
		req.MaxPins = maxPinsCeiling
	}

	jobID := s.runner.SubmitBoardAnalysis(pipeline.BoardAnalysisRequest{
		BoardURL:        req.BoardURL,
		MaxPins:         req.MaxPins,
		LLMModel:        req.LLMModel,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
	})
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	s.handleJobStatus(w, r, "/v1/analyze/")
}

type extractItemRequest struct {
	ImageURL        string `json:"image_url"`
	ItemDescription string `json:"item_description"`
	ModelImage      string `json:"model_image"`
}

func (req *extractItemRequest) validate() (string, bool) {
	if !isHTTPURL(req.ImageURL) {
		return "image_url must be a valid HTTP(S) URL", false
	}
	if strings.TrimSpace(req.ItemDescription) == "" {
		return "item_description is required", false
	}
	return "", true
}

func (s *Server) handleExtractItemImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req extractItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if msg, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := s.runner.ExtractImage(r.Context(), pipeline.ExtractionRequest{
		ImageURL:        req.ImageURL,
		ItemDescription: req.ItemDescription,
		ImageModel:      req.ModelImage,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExtractItem3D(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req extractItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if msg, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	jobID := s.runner.SubmitExtraction(pipeline.ExtractionRequest{
		ImageURL:        req.ImageURL,
		ItemDescription: req.ItemDescription,
		ImageModel:      req.ModelImage,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
	})
}

func (s *Server) handleExtractItem3DStatus(w http.ResponseWriter, r *http.Request) {
	s.handleJobStatus(w, r, "/v1/extract-item-3d/")
}

type jobStatusResponse struct {
	JobID     string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Error     string      `json:"error,omitempty"`
	Result    any         `json:"result,omitempty"`
}

// handleJobStatus serves polling for both job kinds; an unknown or already
// swept id is a 404.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, prefix string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job, ok := s.runner.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Error:     job.Error,
		Result:    job.Result,
	})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.assets == nil {
		writeError(w, http.StatusNotImplemented, "asset catalog is not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	assets, err := s.assets.ListAssets(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": assets,
	})
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
