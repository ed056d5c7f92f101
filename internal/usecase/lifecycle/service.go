package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
)

// Bootstrap problem every event starts with, so the crew channel is never
// empty when the first real report arrives.
const (
	bootstrapStrip    = "Genrl"
	bootstrapCategory = "00"
)

// Service walks events through their lifecycle: pending events whose window
// has opened become active, active events whose window has closed are cleaned
// up and finished.
type Service struct {
	events   domain.EventRepo
	problems domain.ProblemRepo
	messages domain.MessageRepo
	receipts domain.ReceiptRepo

	systemUserID   int64
	resolutionCode int
	log            zerolog.Logger
}

func NewService(events domain.EventRepo, problems domain.ProblemRepo,
	messages domain.MessageRepo, receipts domain.ReceiptRepo,
	systemUserID int64, resolutionCode int, log zerolog.Logger) *Service {
	return &Service{
		events:         events,
		problems:       problems,
		messages:       messages,
		receipts:       receipts,
		systemUserID:   systemUserID,
		resolutionCode: resolutionCode,
		log:            log,
	}
}

// Sweep runs one lifecycle pass. A failing event is logged and skipped so one
// broken row cannot stall the rest.
func (s *Service) Sweep(ctx context.Context, now time.Time) error {
	started, err := s.events.ListStarted(ctx, now)
	if err != nil {
		return fmt.Errorf("list started events: %w", err)
	}
	for _, event := range started {
		if err := s.startEvent(ctx, event); err != nil {
			s.log.Error().Err(err).Int64("event_id", event.ID).Msg("start event failed")
		}
	}

	ended, err := s.events.ListEnded(ctx, now)
	if err != nil {
		return fmt.Errorf("list ended events: %w", err)
	}
	for _, event := range ended {
		if err := s.finishEvent(ctx, event); err != nil {
			s.log.Error().Err(err).Int64("event_id", event.ID).Msg("finish event failed")
		}
	}
	return nil
}

func (s *Service) startEvent(ctx context.Context, event domain.Event) error {
	_, err := s.problems.CreateProblem(ctx, domain.Problem{
		EventID:    event.ID,
		CrewType:   "ARM",
		Strip:      bootstrapStrip,
		Category:   bootstrapCategory,
		ReporterID: s.systemUserID,
	})
	if err != nil {
		return fmt.Errorf("seed bootstrap problem: %w", err)
	}
	if err := s.events.SetState(ctx, event.ID, domain.EventActive); err != nil {
		return fmt.Errorf("activate event: %w", err)
	}
	s.log.Info().Int64("event_id", event.ID).Str("event", event.Name).Msg("event started")
	return nil
}

func (s *Service) finishEvent(ctx context.Context, event domain.Event) error {
	acked, err := s.receipts.AckAllPending(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("ack pending receipts: %w", err)
	}
	if err := s.messages.MarkFinished(ctx, event.ID); err != nil {
		return fmt.Errorf("finish messages: %w", err)
	}
	resolved, err := s.problems.ForceResolveOpen(ctx, event.ID, s.systemUserID, s.resolutionCode)
	if err != nil {
		return fmt.Errorf("force-resolve problems: %w", err)
	}
	if err := s.events.SetState(ctx, event.ID, domain.EventFinished); err != nil {
		return fmt.Errorf("finish event: %w", err)
	}
	s.log.Info().Int64("event_id", event.ID).Str("event", event.Name).
		Int64("receipts_acked", acked).Int64("problems_resolved", resolved).
		Msg("event finished")
	return nil
}
