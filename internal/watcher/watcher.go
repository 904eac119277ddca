package watcher

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dejaview/pinboard/internal/pipeline"
	"github.com/dejaview/pinboard/pkg/log"
)

// submitter is the slice of the pipeline runner the watcher needs.
type submitter interface {
	SubmitBoardAnalysis(req pipeline.BoardAnalysisRequest) string
}

// Watcher periodically re-submits analysis jobs for a configured set of
// boards, so the catalog keeps up with boards that change over time.
type Watcher struct {
	runner   submitter
	boards   []string
	maxPins  int
	cronExpr string
	cron     *cron.Cron
}

func New(runner submitter, boards []string, maxPins int, cronExpr string) *Watcher {
	if maxPins <= 0 {
		maxPins = 10
	}
	return &Watcher{
		runner:   runner,
		boards:   boards,
		maxPins:  maxPins,
		cronExpr: cronExpr,
	}
}

// Start schedules the periodic re-analysis. No-op when no boards are
// configured.
func (w *Watcher) Start() error {
	if len(w.boards) == 0 {
		log.Info("Board watcher disabled: no boards configured")
		return nil
	}

	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.cronExpr, w.tick); err != nil {
		return fmt.Errorf("invalid watcher schedule %q: %w", w.cronExpr, err)
	}
	w.cron.Start()
	log.Info("Board watcher started: %d board(s), schedule %q", len(w.boards), w.cronExpr)
	return nil
}

func (w *Watcher) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}

func (w *Watcher) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Board watcher tick panicked: %v", rec)
		}
	}()

	for _, board := range w.boards {
		jobID := w.runner.SubmitBoardAnalysis(pipeline.BoardAnalysisRequest{
			BoardURL: board,
			MaxPins:  w.maxPins,
		})
		log.Info("Board watcher submitted job %s for %s", jobID, board)
	}
}
