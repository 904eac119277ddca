package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dejaview/pinboard/pkg/log"
)

// Sweeper periodically deletes terminal jobs once they outlive the retention
// window, so the registry cannot grow without bound. Queued and running jobs
// are never touched regardless of age.
type Sweeper struct {
	registry  *Registry
	retention time.Duration
	interval  time.Duration
	cron      *cron.Cron
}

func NewSweeper(registry *Registry, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry:  registry,
		retention: retention,
		interval:  interval,
	}
}

// Start schedules the sweep on its own cron runner.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.safeSweep); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	c.Start()
	s.cron = c
	log.Info("Job sweeper started: retention=%s interval=%s", s.retention, s.interval)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
}

// safeSweep keeps a single bad tick from killing the schedule.
func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job sweep panicked: %v", r)
		}
	}()
	s.Sweep(time.Now())
}

// Sweep deletes every terminal record older than the retention window and
// returns how many were removed.
func (s *Sweeper) Sweep(now time.Time) int {
	removed := 0
	for _, job := range s.registry.List() {
		if !job.Status.Terminal() {
			continue
		}
		if now.Sub(job.UpdatedAt) <= s.retention {
			continue
		}
		if s.registry.Delete(job.ID) {
			removed++
			log.Info("Swept expired job %s (status=%s, age=%s)", job.ID, job.Status, now.Sub(job.UpdatedAt))
		}
	}
	return removed
}
