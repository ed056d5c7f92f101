package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
	"stripcall/internal/usecase/dispatch"
)

// Inbound SMS reports always go to the armorer crew.
const inboundCrewType = "ARM"

// Outcome classifies the handling of one inbound report. The webhook handler
// maps each value to its own reply text.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeUserProvisionFailed
	OutcomeNoEventForHotline
	OutcomeProblemCreateFailed
	OutcomeDispatchFailed
	OutcomeNewProblem
	OutcomeFollowUp
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUserProvisionFailed:
		return "user_provision_failed"
	case OutcomeNoEventForHotline:
		return "no_event_for_hotline"
	case OutcomeProblemCreateFailed:
		return "problem_create_failed"
	case OutcomeDispatchFailed:
		return "dispatch_failed"
	case OutcomeNewProblem:
		return "new_problem"
	case OutcomeFollowUp:
		return "follow_up"
	default:
		return "unknown"
	}
}

// Dispatcher is the fan-out side of the classifier, satisfied by
// dispatch.Service.
type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatch.Input) (dispatch.Result, error)
}

// Service turns raw inbound SMS into problems and crew messages.
type Service struct {
	users      domain.UserRepo
	events     domain.EventRepo
	problems   domain.ProblemRepo
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewService(users domain.UserRepo, events domain.EventRepo, problems domain.ProblemRepo,
	dispatcher Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		users:      users,
		events:     events,
		problems:   problems,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Handle processes one inbound SMS: provisions the sender on first contact,
// resolves the event by the hotline it arrived on, correlates with the
// sender's open problem or classifies the text into a new one, then fans the
// message out to the crew.
func (s *Service) Handle(ctx context.Context, from, to, body string) (Outcome, error) {
	user, err := s.users.GetUserByMobile(ctx, from)
	if errors.Is(err, domain.ErrUserNotFound) {
		user, err = s.users.CreateFromMobile(ctx, from, domain.RoleArm)
		if err == nil {
			s.log.Info().Int64("user_id", user.ID).Msg("provisioned reporter from inbound sms")
		}
	}
	if err != nil {
		return OutcomeUserProvisionFailed, fmt.Errorf("provision reporter: %w", err)
	}

	event, err := s.events.GetByHotline(ctx, to)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			return OutcomeNoEventForHotline, nil
		}
		return OutcomeNoEventForHotline, fmt.Errorf("resolve hotline: %w", err)
	}

	newProblem := false
	problem, err := s.problems.OpenByReporter(ctx, user.ID, event.ID)
	switch {
	case errors.Is(err, domain.ErrProblemNotFound):
		newProblem = true
		classified := Classify(body)
		problem = domain.Problem{
			EventID:    event.ID,
			CrewType:   inboundCrewType,
			Strip:      classified.Strip,
			Category:   classified.Category,
			ReporterID: user.ID,
		}
		problem.ID, err = s.problems.CreateProblem(ctx, problem)
		if err != nil {
			return OutcomeProblemCreateFailed, fmt.Errorf("create problem: %w", err)
		}
	case err != nil:
		return OutcomeProblemCreateFailed, fmt.Errorf("find open problem: %w", err)
	}

	result, err := s.dispatcher.Dispatch(ctx, dispatch.Input{
		SenderID:  user.ID,
		EventID:   event.ID,
		CrewType:  inboundCrewType,
		ProblemID: problem.ID,
		Text:      displayName(user) + ": " + body,
	})
	if err != nil {
		return OutcomeDispatchFailed, fmt.Errorf("dispatch report: %w", err)
	}
	if !result.Clean() {
		s.log.Warn().Int64("message_id", result.MessageID).
			Msg("report delivered with partial gateway failures")
	}

	if newProblem {
		return OutcomeNewProblem, nil
	}
	return OutcomeFollowUp, nil
}

func displayName(u domain.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.Mobile
}
