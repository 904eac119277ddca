package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejaview/pinboard/internal/pipeline"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []pipeline.BoardAnalysisRequest
}

func (r *recordingSubmitter) SubmitBoardAnalysis(req pipeline.BoardAnalysisRequest) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return "job-1"
}

func (r *recordingSubmitter) snapshot() []pipeline.BoardAnalysisRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.BoardAnalysisRequest(nil), r.requests...)
}

func TestWatcher_SubmitsEveryConfiguredBoard(t *testing.T) {
	sub := &recordingSubmitter{}
	w := New(sub, []string{
		"https://www.pinterest.com/user/living-rooms/",
		"https://www.pinterest.com/user/kitchens/",
	}, 25, "@every 10ms")
	require.NoError(t, w.Start())
	defer w.Stop()

	require.Eventually(t, func() bool {
		return len(sub.snapshot()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	reqs := sub.snapshot()
	assert.Equal(t, "https://www.pinterest.com/user/living-rooms/", reqs[0].BoardURL)
	assert.Equal(t, 25, reqs[0].MaxPins)
	assert.Equal(t, "https://www.pinterest.com/user/kitchens/", reqs[1].BoardURL)
}

func TestWatcher_NoBoardsIsANoOp(t *testing.T) {
	sub := &recordingSubmitter{}
	w := New(sub, nil, 10, "@every 10ms")
	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sub.snapshot())
}

func TestWatcher_RejectsBadSchedule(t *testing.T) {
	w := New(&recordingSubmitter{}, []string{"https://www.pinterest.com/user/b/"}, 10, "not a schedule")
	require.Error(t, w.Start())
}

func TestWatcher_DefaultsMaxPins(t *testing.T) {
	sub := &recordingSubmitter{}
	w := New(sub, []string{"https://www.pinterest.com/user/b/"}, 0, "@every 10ms")
	require.NoError(t, w.Start())
	defer w.Stop()

	require.Eventually(t, func() bool {
		return len(sub.snapshot()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, sub.snapshot()[0].MaxPins)
}
