package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejaview/pinboard/internal/catalog"
	"github.com/dejaview/pinboard/internal/gemini"
	"github.com/dejaview/pinboard/internal/jobs"
	"github.com/dejaview/pinboard/internal/llm"
	"github.com/dejaview/pinboard/internal/scraper"
)

// Stub collaborators. Each one defaults to succeeding with canned data and
// can be overridden per test.

type stubLister struct {
	pins []scraper.Pin
	err  error
}

func (s *stubLister) ListPins(ctx context.Context, boardURL string, limit int) ([]scraper.Pin, error) {
	return s.pins, s.err
}

type stubAnalyzer struct {
	fn func(imageURL string) (*llm.PinAnalysis, error)
}

func (s *stubAnalyzer) AnalyzePin(ctx context.Context, imageURL, title, description string, opts *llm.AnalyzeOptions) (*llm.PinAnalysis, error) {
	if s.fn != nil {
		return s.fn(imageURL)
	}
	return &llm.PinAnalysis{MainItem: "sofa", Description: "a sofa", Confidence: 0.9}, nil
}

type stubIsolator struct {
	out []byte
	err error
	fn  func() ([]byte, error)
}

func (s *stubIsolator) ExtractItem(ctx context.Context, imageBytes []byte, itemDescription string, opts *gemini.IsolateOptions) ([]byte, error) {
	if s.fn != nil {
		return s.fn()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	return []byte("isolated png"), nil
}

type stubSynthesizer struct {
	url string
	err error
}

func (s *stubSynthesizer) GenerateModel(ctx context.Context, imageBytes []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.url != "" {
		return s.url, nil
	}
	return "https://replicate.delivery/model.glb", nil
}

type stubStore struct {
	mu      sync.Mutex
	uploads []string
}

func (s *stubStore) Upload(ctx context.Context, data []byte, contentType, ext, prefix string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d.%s", prefix, len(s.uploads), ext)
	s.uploads = append(s.uploads, key)
	return key, "https://assets.example.com/" + key, nil
}

type stubFetcher struct {
	block chan struct{}
	err   error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte("bytes of " + url), nil
}

type stubRecorder struct {
	mu     sync.Mutex
	assets []*catalog.Asset
	err    error
}

func (s *stubRecorder) SaveAsset(ctx context.Context, asset *catalog.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, asset)
	return s.err
}

type runnerFixture struct {
	registry *jobs.Registry
	gate     *jobs.Gate
	itemGate *jobs.Gate
	collab   Collaborators
	recorder *stubRecorder
}

func newFixture() *runnerFixture {
	return &runnerFixture{
		registry: jobs.NewRegistry(),
		gate:     jobs.NewGate(4),
		itemGate: jobs.NewGate(3),
		collab: Collaborators{
			Lister:      &stubLister{},
			Analyzer:    &stubAnalyzer{},
			Isolator:    &stubIsolator{},
			Synthesizer: &stubSynthesizer{},
			Store:       &stubStore{},
			Fetcher:     &stubFetcher{},
		},
		recorder: &stubRecorder{},
	}
}

func (f *runnerFixture) runner() *Runner {
	return NewRunner(f.registry, f.gate, f.itemGate, f.collab, f.recorder)
}

func waitForStatus(t *testing.T, r *Runner, id string, want jobs.Status) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		got, ok := r.Status(id)
		if !ok {
			return false
		}
		job = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func somePins(n int) []scraper.Pin {
	pins := make([]scraper.Pin, n)
	for i := range pins {
		pins[i] = scraper.Pin{
			PinID:    fmt.Sprintf("pin-%d", i+1),
			ImageURL: fmt.Sprintf("https://i.pinimg.com/736x/aa/pin-%d.jpg", i+1),
		}
	}
	return pins
}

func TestSubmitExtraction_QueuedWhileGateIsFull(t *testing.T) {
	f := newFixture()
	f.gate = jobs.NewGate(1)
	require.True(t, f.gate.TryAcquire())
	defer f.gate.Release()

	r := f.runner()
	id := r.SubmitExtraction(ExtractionRequest{ImageURL: "https://img/x.jpg", ItemDescription: "sofa"})

	job, ok := r.Status(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusQueued, job.Status)

	// Still queued a little later: the only slot is held by the test.
	time.Sleep(30 * time.Millisecond)
	job, ok = r.Status(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusQueued, job.Status)
}

func TestStatus_UnknownID(t *testing.T) {
	r := newFixture().runner()
	_, ok := r.Status("never-issued")
	assert.False(t, ok)
}

func TestExtraction_SucceedsThroughAllStages(t *testing.T) {
	f := newFixture()
	f.collab.Synthesizer = &stubSynthesizer{url: "https://replicate.delivery/out.glb"}
	r := f.runner()

	id := r.SubmitExtraction(ExtractionRequest{
		ImageURL:        "https://i.pinimg.com/736x/aa/bb.jpg",
		ItemDescription: "teal velvet sofa",
	})
	job := waitForStatus(t, r, id, jobs.StatusSucceeded)

	result, ok := job.Result.(*ExtractionResult)
	require.True(t, ok)
	assert.Equal(t, "https://i.pinimg.com/736x/aa/bb.jpg", result.SourceImageURL)
	assert.Equal(t, "teal velvet sofa", result.ItemDescription)
	assert.Contains(t, result.ResultImageKey, "items/")
	assert.Contains(t, result.ModelGLBKey, "models/")
	assert.Empty(t, job.Error)

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	require.Len(t, f.recorder.assets, 1)
	assert.Equal(t, id, f.recorder.assets[0].JobID)
	assert.Equal(t, "teal velvet sofa", f.recorder.assets[0].ItemDescription)
}

func TestExtraction_StageErrorFailsJob(t *testing.T) {
	f := newFixture()
	f.collab.Synthesizer = &stubSynthesizer{err: fmt.Errorf("prediction failed: NSFW content")}
	r := f.runner()

	id := r.SubmitExtraction(ExtractionRequest{ImageURL: "https://img/x.jpg", ItemDescription: "sofa"})
	job := waitForStatus(t, r, id, jobs.StatusFailed)

	assert.Contains(t, job.Error, "NSFW content")
	assert.Contains(t, job.Error, "failed to generate 3D model")
}

func TestExtraction_CatalogFailureDoesNotFailJob(t *testing.T) {
	f := newFixture()
	f.recorder.err = fmt.Errorf("disk full")
	r := f.runner()

	id := r.SubmitExtraction(ExtractionRequest{ImageURL: "https://img/x.jpg", ItemDescription: "sofa"})
	waitForStatus(t, r, id, jobs.StatusSucceeded)
}

func TestExtraction_PanicReleasesSlotAndFailsGenerically(t *testing.T) {
	f := newFixture()
	f.gate = jobs.NewGate(1)
	f.collab.Isolator = &stubIsolator{fn: func() ([]byte, error) { panic("invariant violated") }}
	r := f.runner()

	id := r.SubmitExtraction(ExtractionRequest{ImageURL: "https://img/x.jpg", ItemDescription: "sofa"})
	job := waitForStatus(t, r, id, jobs.StatusFailed)
	assert.Equal(t, "internal error during job execution", job.Error)

	// The slot must have been released on the panic path.
	require.Eventually(t, func() bool { return f.gate.TryAcquire() }, time.Second, 5*time.Millisecond)
	f.gate.Release()
}

func TestGate_BoundsConcurrentExtractions(t *testing.T) {
	f := newFixture()
	f.gate = jobs.NewGate(2)
	block := make(chan struct{})
	f.collab.Fetcher = &stubFetcher{block: block}
	r := f.runner()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = r.SubmitExtraction(ExtractionRequest{ImageURL: "https://img/x.jpg", ItemDescription: "sofa"})
	}

	countByStatus := func() map[jobs.Status]int {
		counts := make(map[jobs.Status]int)
		for _, id := range ids {
			if job, ok := r.Status(id); ok {
				counts[job.Status]++
			}
		}
		return counts
	}

	require.Eventually(t, func() bool {
		return countByStatus()[jobs.StatusRunning] == 2
	}, 2*time.Second, 5*time.Millisecond)

	// The third stays queued while both slots are busy.
	time.Sleep(30 * time.Millisecond)
	counts := countByStatus()
	assert.Equal(t, 2, counts[jobs.StatusRunning])
	assert.Equal(t, 1, counts[jobs.StatusQueued])

	close(block)
	require.Eventually(t, func() bool {
		return countByStatus()[jobs.StatusSucceeded] == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBoard_EmptyBoardSucceedsWithZeroProgress(t *testing.T) {
	f := newFixture()
	f.collab.Lister = &stubLister{pins: nil}
	r := f.runner()

	id := r.SubmitBoardAnalysis(BoardAnalysisRequest{BoardURL: "https://pinterest.com/u/empty/"})
	job := waitForStatus(t, r, id, jobs.StatusSucceeded)

	result, ok := job.Result.(*BoardAnalysisResult)
	require.True(t, ok)
	assert.Equal(t, 0, result.ItemsTotal)
	assert.Equal(t, 0, result.ItemsCompleted)
	assert.Empty(t, result.Pins)
	assert.Empty(t, job.Error)
}

func TestBoard_ListingFailureFailsJob(t *testing.T) {
	f := newFixture()
	f.collab.Lister = &stubLister{err: fmt.Errorf("status 404")}
	r := f.runner()

	id := r.SubmitBoardAnalysis(BoardAnalysisRequest{BoardURL: "https://pinterest.com/u/missing/"})
	job := waitForStatus(t, r, id, jobs.StatusFailed)

	assert.Contains(t, job.Error, "failed to scrape board")
	assert.Contains(t, job.Error, "status 404")
}

func TestBoard_ItemFailureIsASkipNotAJobFailure(t *testing.T) {
	f := newFixture()
	f.collab.Lister = &stubLister{pins: somePins(3)}
	f.collab.Analyzer = &stubAnalyzer{fn: func(imageURL string) (*llm.PinAnalysis, error) {
		if strings.Contains(imageURL, "pin-2") {
			return nil, fmt.Errorf("rate limit exceeded")
		}
		return &llm.PinAnalysis{MainItem: "lamp", Description: "a lamp", Confidence: 0.8}, nil
	}}
	r := f.runner()

	id := r.SubmitBoardAnalysis(BoardAnalysisRequest{BoardURL: "https://pinterest.com/u/board/"})
	job := waitForStatus(t, r, id, jobs.StatusSucceeded)

	result, ok := job.Result.(*BoardAnalysisResult)
	require.True(t, ok)
	assert.Equal(t, 3, result.ItemsTotal)
	assert.Equal(t, 3, result.ItemsCompleted)
	assert.Equal(t, 2, result.NumAnalyzed)
	assert.Equal(t, 1, result.NumSkipped)

	// Outcomes come back in listing order.
	require.Len(t, result.Pins, 3)
	assert.Equal(t, "pin-1", result.Pins[0].PinID)
	assert.False(t, result.Pins[0].Skipped)
	require.NotNil(t, result.Pins[0].Analysis)

	assert.Equal(t, "pin-2", result.Pins[1].PinID)
	assert.True(t, result.Pins[1].Skipped)
	assert.Contains(t, result.Pins[1].SkipReason, "rate limit exceeded")
	assert.Nil(t, result.Pins[1].Analysis)

	assert.Equal(t, "pin-3", result.Pins[2].PinID)
	assert.False(t, result.Pins[2].Skipped)
}

func TestBoard_AllItemsSkippedStillSucceeds(t *testing.T) {
	f := newFixture()
	f.collab.Lister = &stubLister{pins: somePins(2)}
	f.collab.Analyzer = &stubAnalyzer{fn: func(string) (*llm.PinAnalysis, error) {
		return nil, fmt.Errorf("quota exhausted")
	}}
	r := f.runner()

	id := r.SubmitBoardAnalysis(BoardAnalysisRequest{BoardURL: "https://pinterest.com/u/board/"})
	job := waitForStatus(t, r, id, jobs.StatusSucceeded)

	result := job.Result.(*BoardAnalysisResult)
	assert.Equal(t, 2, result.ItemsCompleted)
	assert.Equal(t, 2, result.NumSkipped)
	for _, outcome := range result.Pins {
		assert.True(t, outcome.Skipped)
		assert.NotEmpty(t, outcome.SkipReason)
	}
}

func TestBoard_PanickingItemBecomesASkip(t *testing.T) {
	f := newFixture()
	f.collab.Lister = &stubLister{pins: somePins(2)}
	f.collab.Analyzer = &stubAnalyzer{fn: func(imageURL string) (*llm.PinAnalysis, error) {
		if strings.Contains(imageURL, "pin-1") {
			panic("nil upstream response")
		}
		return &llm.PinAnalysis{MainItem: "chair", Description: "a chair"}, nil
	}}
	r := f.runner()

	id := r.SubmitBoardAnalysis(BoardAnalysisRequest{BoardURL: "https://pinterest.com/u/board/"})
	job := waitForStatus(t, r, id, jobs.StatusSucceeded)

	result := job.Result.(*BoardAnalysisResult)
	assert.Equal(t, 2, result.ItemsCompleted)
	assert.True(t, result.Pins[0].Skipped)
	assert.Contains(t, result.Pins[0].SkipReason, "nil upstream response")
	assert.False(t, result.Pins[1].Skipped)
}

func TestBoard_ProgressIsLiveAndMonotonic(t *testing.T) {
	f := newFixture()
	f.itemGate = jobs.NewGate(1)
	f.collab.Lister = &stubLister{pins: somePins(4)}

	release := make(chan struct{}, 4)
	f.collab.Analyzer = &stubAnalyzer{fn: func(string) (*llm.PinAnalysis, error) {
		<-release
		return &llm.PinAnalysis{MainItem: "sofa", Description: "a sofa"}, nil
	}}
	r := f.runner()

	id := r.SubmitBoardAnalysis(BoardAnalysisRequest{BoardURL: "https://pinterest.com/u/board/"})
	waitForStatus(t, r, id, jobs.StatusRunning)

	completed := func() int {
		job, ok := r.Status(id)
		if !ok {
			return -1
		}
		result, ok := job.Result.(*BoardAnalysisResult)
		if !ok {
			return 0
		}
		return result.ItemsCompleted
	}

	last := 0
	for i := 1; i <= 4; i++ {
		release <- struct{}{}
		require.Eventually(t, func() bool { return completed() >= i }, 2*time.Second, 5*time.Millisecond)
		now := completed()
		assert.GreaterOrEqual(t, now, last)
		last = now
	}

	job := waitForStatus(t, r, id, jobs.StatusSucceeded)
	result := job.Result.(*BoardAnalysisResult)
	assert.Equal(t, 4, result.ItemsCompleted)
	assert.Equal(t, 4, result.ItemsTotal)
}

func TestExtractImage_Synchronous(t *testing.T) {
	f := newFixture()
	r := f.runner()

	result, err := r.ExtractImage(context.Background(), ExtractionRequest{
		ImageURL:        "https://i.pinimg.com/736x/aa/bb.jpg",
		ItemDescription: "red handbag",
	})
	require.NoError(t, err)
	assert.Equal(t, "red handbag", result.ItemDescription)
	assert.Contains(t, result.ObjectKey, "items/")
	assert.Equal(t, "image/png", result.MimeType)
}

func TestExtractImage_IsolationErrorSurfaces(t *testing.T) {
	f := newFixture()
	f.collab.Isolator = &stubIsolator{err: fmt.Errorf("no image in Gemini response")}
	r := f.runner()

	_, err := r.ExtractImage(context.Background(), ExtractionRequest{
		ImageURL:        "https://img/x.jpg",
		ItemDescription: "unicorn statue",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image in Gemini response")
}
