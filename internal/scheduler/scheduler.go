// Package scheduler drives periodic work: pipeline schedules and the
// alert evaluation cycle. It owns nothing else; triggered runs go
// through the same path as manual ones.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flowforge/flowforge/internal/alert"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/worker"
	"github.com/flowforge/flowforge/pkg/logger"
)

// Scheduler wraps a cron runner over pipelines and alerts
type Scheduler struct {
	cron      *cron.Cron
	store     *store.Store
	trigger   *worker.Trigger
	evaluator *alert.Evaluator
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // pipeline id → entry
}

// New creates a scheduler. alertSchedule is a cron expression for the
// evaluation cycle; empty disables it.
func New(st *store.Store, trigger *worker.Trigger, evaluator *alert.Evaluator, alertSchedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		store:     st,
		trigger:   trigger,
		evaluator: evaluator,
		logger:    logger.Get().With(zap.String("component", "scheduler")),
		entries:   make(map[string]cron.EntryID),
	}

	if alertSchedule != "" {
		_, err := s.cron.AddFunc(alertSchedule, func() {
			if err := s.evaluator.EvaluateAll(context.Background()); err != nil {
				s.logger.Error("alert cycle failed", zap.Error(err))
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start registers every scheduled pipeline and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	pipelines, err := s.store.ListPipelines(ctx)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		if p.ScheduleCron == "" {
			continue
		}
		if err := s.AddPipeline(p.ID, p.ScheduleCron); err != nil {
			s.logger.Warn("invalid pipeline schedule",
				zap.String("pipeline_id", p.ID),
				zap.String("schedule", p.ScheduleCron),
				zap.Error(err))
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("pipelines", len(s.entries)))
	return nil
}

// AddPipeline registers or replaces a pipeline's cron entry
func (s *Scheduler) AddPipeline(pipelineID, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[pipelineID]; ok {
		s.cron.Remove(old)
		delete(s.entries, pipelineID)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.trigger.Run(context.Background(), pipelineID); err != nil {
			s.logger.Error("scheduled run failed to enqueue",
				zap.String("pipeline_id", pipelineID),
				zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.entries[pipelineID] = id
	return nil
}

// RemovePipeline drops a pipeline's cron entry if present
func (s *Scheduler) RemovePipeline(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[pipelineID]; ok {
		s.cron.Remove(id)
		delete(s.entries, pipelineID)
	}
}

// Stop halts the cron loop and waits for running entries
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
