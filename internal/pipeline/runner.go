package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dejaview/pinboard/internal/catalog"
	"github.com/dejaview/pinboard/internal/gemini"
	"github.com/dejaview/pinboard/internal/jobs"
	"github.com/dejaview/pinboard/internal/llm"
	"github.com/dejaview/pinboard/internal/scraper"
	"github.com/dejaview/pinboard/pkg/log"
)

// AssetRecorder indexes finished extractions. Recording is best-effort; a
// write failure never fails the job that produced the asset.
type AssetRecorder interface {
	SaveAsset(ctx context.Context, asset *catalog.Asset) error
}

// Collaborators bundles the external services the runner drives.
type Collaborators struct {
	Lister      ItemLister
	Analyzer    Analyzer
	Isolator    Isolator
	Synthesizer Synthesizer
	Store       ObjectStore
	Fetcher     Fetcher
}

// Runner owns job execution: it admits work through the gates, drives the
// staged pipelines, and translates outcomes into registry updates. Pollers
// only ever talk to the registry; nothing here blocks a reader.
type Runner struct {
	registry *jobs.Registry
	gate     *jobs.Gate
	itemGate *jobs.Gate

	collab  Collaborators
	catalog AssetRecorder

	// Serializes batch progress write-backs so two near-simultaneous item
	// completions never lose an update.
	progressMu sync.Mutex
}

// NewRunner wires a runner. recorder may be nil when no catalog is
// configured.
func NewRunner(registry *jobs.Registry, gate, itemGate *jobs.Gate, collab Collaborators, recorder AssetRecorder) *Runner {
	return &Runner{
		registry: registry,
		gate:     gate,
		itemGate: itemGate,
		collab:   collab,
		catalog:  recorder,
	}
}

// Status returns a snapshot of the job, or absence when the id is unknown
// or already swept.
func (r *Runner) Status(id string) (*jobs.Job, bool) {
	return r.registry.Get(id)
}

// SubmitExtraction creates a queued extraction job and schedules its
// pipeline on a detached goroutine. Returns immediately with the job id.
func (r *Runner) SubmitExtraction(req ExtractionRequest) string {
	job := r.registry.Create(req)
	log.Info("Submitted extraction job %s for %s", job.ID, req.ImageURL)

	go r.execute(job.ID, func(ctx context.Context) (any, error) {
		return r.runExtraction(ctx, job.ID, req)
	})
	return job.ID
}

// SubmitBoardAnalysis creates a queued board-analysis job and schedules its
// fan-out on a detached goroutine. Returns immediately with the job id.
func (r *Runner) SubmitBoardAnalysis(req BoardAnalysisRequest) string {
	job := r.registry.Create(req)
	log.Info("Submitted board analysis job %s for %s", job.ID, req.BoardURL)

	go r.execute(job.ID, func(ctx context.Context) (any, error) {
		return r.runBoard(ctx, job.ID, req)
	})
	return job.ID
}

// execute is the guaranteed-cleanup scope around one job's pipeline: the
// gate slot is released and a terminal status is written on every exit
// path, panics included.
func (r *Runner) execute(jobID string, run func(ctx context.Context) (any, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Job %s panicked: %v", jobID, rec)
			r.registry.Update(jobID, jobs.StatusFailed, "internal error during job execution", nil)
		}
	}()

	ctx := context.Background()
	if err := r.gate.Acquire(ctx); err != nil {
		r.registry.Update(jobID, jobs.StatusFailed, fmt.Sprintf("failed to acquire worker slot: %v", err), nil)
		return
	}
	defer r.gate.Release()

	r.registry.Update(jobID, jobs.StatusRunning, "", nil)

	result, err := run(ctx)
	if err != nil {
		log.Warn("Job %s failed: %v", jobID, err)
		r.registry.Update(jobID, jobs.StatusFailed, err.Error(), nil)
		return
	}
	r.registry.Update(jobID, jobs.StatusSucceeded, "", result)
	log.Info("Job %s succeeded", jobID)
}

// runExtraction drives the single-unit pipeline: fetch the source image,
// isolate the item, upload the PNG, synthesize the 3D model, fetch and
// upload the .glb. Any stage error aborts the rest and fails the job.
func (r *Runner) runExtraction(ctx context.Context, jobID string, req ExtractionRequest) (*ExtractionResult, error) {
	source, err := r.collab.Fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download source image: %w", err)
	}
	log.Debug("Job %s: downloaded %d source bytes", jobID, len(source))

	var isolateOpts *gemini.IsolateOptions
	if req.ImageModel != "" {
		isolateOpts = &gemini.IsolateOptions{Model: req.ImageModel}
	}
	isolated, err := r.collab.Isolator.ExtractItem(ctx, source, req.ItemDescription, isolateOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to isolate item: %w", err)
	}

	imageKey, imageURL, err := r.collab.Store.Upload(ctx, isolated, "image/png", "png", "items")
	if err != nil {
		return nil, fmt.Errorf("failed to upload isolated image: %w", err)
	}

	modelSourceURL, err := r.collab.Synthesizer.GenerateModel(ctx, isolated)
	if err != nil {
		return nil, fmt.Errorf("failed to generate 3D model: %w", err)
	}

	glb, err := r.collab.Fetcher.Fetch(ctx, modelSourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated model: %w", err)
	}

	modelKey, modelURL, err := r.collab.Store.Upload(ctx, glb, "model/gltf-binary", "glb", "models")
	if err != nil {
		return nil, fmt.Errorf("failed to upload generated model: %w", err)
	}

	result := &ExtractionResult{
		SourceImageURL:  req.ImageURL,
		ItemDescription: req.ItemDescription,
		ResultImageURL:  imageURL,
		ResultImageKey:  imageKey,
		ModelGLBURL:     modelURL,
		ModelGLBKey:     modelKey,
	}
	r.recordAsset(ctx, jobID, req, result)
	return result, nil
}

func (r *Runner) recordAsset(ctx context.Context, jobID string, req ExtractionRequest, result *ExtractionResult) {
	if r.catalog == nil {
		return
	}
	err := r.catalog.SaveAsset(ctx, &catalog.Asset{
		JobID:           jobID,
		SourceImageURL:  req.ImageURL,
		ItemDescription: req.ItemDescription,
		ImageURL:        result.ResultImageURL,
		ImageKey:        result.ResultImageKey,
		ModelURL:        result.ModelGLBURL,
		ModelKey:        result.ModelGLBKey,
	})
	if err != nil {
		log.Warn("Job %s: failed to record asset in catalog: %v", jobID, err)
	}
}

// runBoard drives the batch fan-out: list the board's pins, analyze each
// one under the inner gate, and write the running tally back after every
// pin so pollers see live progress. A pin's failure becomes a skip; only a
// listing failure fails the whole job.
func (r *Runner) runBoard(ctx context.Context, jobID string, req BoardAnalysisRequest) (*BoardAnalysisResult, error) {
	pins, err := r.collab.Lister.ListPins(ctx, req.BoardURL, req.MaxPins)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape board: %w", err)
	}

	// An empty board is a normal outcome, not a failure.
	if len(pins) == 0 {
		log.Info("Job %s: no pins found on %s", jobID, req.BoardURL)
		return &BoardAnalysisResult{
			BoardURL: req.BoardURL,
			Pins:     []PinOutcome{},
		}, nil
	}
	log.Info("Job %s: analyzing %d pins", jobID, len(pins))

	outcomes := make([]PinOutcome, len(pins))
	done := make([]bool, len(pins))

	var wg sync.WaitGroup
	for i, pin := range pins {
		wg.Add(1)
		go func(i int, pin scraper.Pin) {
			defer wg.Done()
			outcome := r.analyzeOne(ctx, req, pin)

			r.progressMu.Lock()
			defer r.progressMu.Unlock()
			outcomes[i] = outcome
			done[i] = true
			r.registry.Update(jobID, jobs.StatusRunning, "", snapshotLocked(req.BoardURL, outcomes, done))
		}(i, pin)
	}
	wg.Wait()

	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	return snapshotLocked(req.BoardURL, outcomes, done), nil
}

// analyzeOne runs one pin's analysis under the inner gate. Errors and
// panics become a skip with a reason, never a batch failure.
func (r *Runner) analyzeOne(ctx context.Context, req BoardAnalysisRequest, pin scraper.Pin) (outcome PinOutcome) {
	outcome = PinOutcome{
		PinID:          pin.PinID,
		ImageURL:       pin.ImageURL,
		Title:          pin.Title,
		PinDescription: pin.Description,
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Pin %s analysis panicked: %v", pin.PinID, rec)
			outcome.Skipped = true
			outcome.SkipReason = fmt.Sprintf("analysis failed: %v", rec)
		}
	}()

	if err := r.itemGate.Acquire(ctx); err != nil {
		outcome.Skipped = true
		outcome.SkipReason = fmt.Sprintf("analysis failed: %v", err)
		return outcome
	}
	defer r.itemGate.Release()

	var opts *llm.AnalyzeOptions
	if req.LLMModel != "" || req.MaxOutputTokens > 0 {
		opts = &llm.AnalyzeOptions{Model: req.LLMModel, MaxOutputTokens: req.MaxOutputTokens}
	}

	analysis, err := r.collab.Analyzer.AnalyzePin(ctx, pin.ImageURL, pin.Title, pin.Description, opts)
	if err != nil {
		log.Warn("Pin %s skipped: %v", pin.PinID, err)
		outcome.Skipped = true
		outcome.SkipReason = fmt.Sprintf("analysis failed: %v", err)
		return outcome
	}
	outcome.Analysis = analysis
	return outcome
}

// snapshotLocked builds the full aggregate from the outcomes finished so
// far, in listing order. Caller holds progressMu.
func snapshotLocked(boardURL string, outcomes []PinOutcome, done []bool) *BoardAnalysisResult {
	result := &BoardAnalysisResult{
		BoardURL:   boardURL,
		ItemsTotal: len(outcomes),
		Pins:       make([]PinOutcome, 0, len(outcomes)),
	}
	for i, outcome := range outcomes {
		if !done[i] {
			continue
		}
		result.ItemsCompleted++
		if outcome.Skipped {
			result.NumSkipped++
		} else {
			result.NumAnalyzed++
		}
		result.Pins = append(result.Pins, outcome)
	}
	return result
}

// ExtractImage is the synchronous isolate-and-upload operation: no job
// record, the caller waits for the PNG's public URL.
func (r *Runner) ExtractImage(ctx context.Context, req ExtractionRequest) (*ImageExtractionResult, error) {
	source, err := r.collab.Fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download source image: %w", err)
	}

	var isolateOpts *gemini.IsolateOptions
	if req.ImageModel != "" {
		isolateOpts = &gemini.IsolateOptions{Model: req.ImageModel}
	}
	isolated, err := r.collab.Isolator.ExtractItem(ctx, source, req.ItemDescription, isolateOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to isolate item: %w", err)
	}

	key, url, err := r.collab.Store.Upload(ctx, isolated, "image/png", "png", "items")
	if err != nil {
		return nil, fmt.Errorf("failed to upload isolated image: %w", err)
	}

	return &ImageExtractionResult{
		SourceImageURL:  req.ImageURL,
		ItemDescription: req.ItemDescription,
		ResultImageURL:  url,
		ObjectKey:       key,
		MimeType:        "image/png",
	}, nil
}
