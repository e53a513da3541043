package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"consilium/internal/config"
	"consilium/internal/coordinator"
	"consilium/internal/message"
	"consilium/internal/store"
)

// Consulter is the slice of the coordinator the scheduler needs.
type Consulter interface {
	Consult(ctx context.Context, req coordinator.ConsultRequest) (*coordinator.ConsultResult, error)
}

type Scheduler struct {
	store        *store.Store
	coord        Consulter
	pollInterval time.Duration
}

func New(s *store.Store, coord Consulter, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		coord:        coord,
		pollInterval: cfg.PollInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	checks, err := s.store.GetDueChecks(time.Now())
	if err != nil {
		slog.Error("failed to get due checks", "error", err)
		return
	}

	for _, check := range checks {
		s.execute(ctx, check)
	}
}

func (s *Scheduler) execute(ctx context.Context, check store.Check) {
	slog.Info("running scheduled check", "id", check.ID, "name", check.Name, "subject_id", check.SubjectID)

	req, err := buildRequest(check)
	if err != nil {
		slog.Error("check payload invalid", "id", check.ID, "error", err)
	} else if _, err := s.coord.Consult(ctx, req); err != nil {
		slog.Error("scheduled consultation failed", "id", check.ID, "error", err)
	}

	nextRun := CalculateNextRun(check.Schedule)
	if err := s.store.MarkCheckRun(check.ID, time.Now(), nextRun); err != nil {
		slog.Error("failed to mark check run", "id", check.ID, "error", err)
	}
	if nextRun == nil {
		slog.Info("check retired", "id", check.ID, "name", check.Name)
	}
}

func buildRequest(check store.Check) (coordinator.ConsultRequest, error) {
	req := coordinator.ConsultRequest{SubjectID: check.SubjectID}
	for _, t := range check.RequestTypes {
		req.Types = append(req.Types, message.SpecialistType(t))
	}

	if len(check.Parameters) > 0 {
		var params map[string]map[string]any
		if err := json.Unmarshal(check.Parameters, &params); err != nil {
			return req, err
		}
		req.Parameters = make(map[message.SpecialistType]map[string]any, len(params))
		for t, p := range params {
			req.Parameters[message.SpecialistType(t)] = p
		}
	}
	if len(check.Context) > 0 {
		if err := json.Unmarshal(check.Context, &req.Context); err != nil {
			return req, err
		}
	}
	return req, nil
}
