package problems

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
)

// Service covers manual problem management from the app side. Inbound SMS
// creates problems through the classifier instead.
type Service struct {
	problems domain.ProblemRepo
	log      zerolog.Logger
}

func NewService(problems domain.ProblemRepo, log zerolog.Logger) *Service {
	return &Service{problems: problems, log: log}
}

// Get loads one problem.
func (s *Service) Get(ctx context.Context, problemID int64) (domain.Problem, error) {
	return s.problems.GetProblem(ctx, problemID)
}

// Create opens a problem reported from the app.
func (s *Service) Create(ctx context.Context, reporterID, eventID int64, crewType, strip, category string) (int64, error) {
	if strip == "" {
		strip = "A1"
	}
	if category == "" {
		category = "A62"
	}
	id, err := s.problems.CreateProblem(ctx, domain.Problem{
		EventID:    eventID,
		CrewType:   crewType,
		Strip:      strip,
		Category:   category,
		ReporterID: reporterID,
	})
	if err != nil {
		return 0, fmt.Errorf("create problem: %w", err)
	}
	s.log.Info().Int64("problem_id", id).Str("strip", strip).
		Str("category", category).Msg("problem opened")
	return id, nil
}

// Resolve closes an open problem. Affected is false when the problem is
// already resolved or does not exist.
func (s *Service) Resolve(ctx context.Context, resolverID, problemID int64, resolutionCode int) (bool, error) {
	affected, err := s.problems.ResolveProblem(ctx, resolverID, problemID, resolutionCode)
	if err != nil {
		return false, fmt.Errorf("resolve problem: %w", err)
	}
	return affected, nil
}

// Update reclassifies an open problem within its crew.
func (s *Service) Update(ctx context.Context, userID, problemID int64, crewType, strip, category string) (bool, error) {
	affected, err := s.problems.UpdateProblem(ctx, userID, problemID, crewType, strip, category)
	if err != nil {
		return false, fmt.Errorf("update problem: %w", err)
	}
	return affected, nil
}
