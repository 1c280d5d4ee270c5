package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/meteolv/meteo-sync/internal/meteo"
)

// Scheduler periodically syncs the configured metrics from the feed into
// the document store.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *meteo.Service
	metrics   []string
	interval  time.Duration
	runBudget time.Duration
}

// New creates a new Scheduler.
func New(metrics []string, interval time.Duration, service *meteo.Service) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		metrics:   metrics,
		interval:  interval,
		runBudget: 10 * time.Minute,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.metrics) == 0 {
		log.Println("scheduler: no metrics configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = time.Hour
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		runID := uuid.NewString()
		log.Printf("scheduler: starting sync run %s (%d metrics)", runID, len(s.metrics))

		ctx, cancel := context.WithTimeout(context.Background(), s.runBudget)
		defer cancel()

		if err := s.service.SyncAll(ctx, s.metrics); err != nil {
			log.Printf("scheduler: sync run %s failed: %v", runID, err)
			return
		}
		log.Printf("scheduler: completed sync run %s", runID)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
