package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stripcall/internal/domain"
	"stripcall/internal/infra/metrics"
)

// Service fans one crew message out to every member of the crew plus, when
// needed, the one participant (sender or reporter) who is outside it.
type Service struct {
	problems domain.ProblemRepo
	crews    domain.CrewRepo
	users    domain.UserRepo
	events   domain.EventRepo
	messages domain.MessageRepo
	push     domain.PushGateway
	sms      domain.SMSGateway
	log      zerolog.Logger
}

// NewService builds the dispatcher.
func NewService(problems domain.ProblemRepo, crews domain.CrewRepo, users domain.UserRepo,
	events domain.EventRepo, messages domain.MessageRepo,
	push domain.PushGateway, sms domain.SMSGateway, log zerolog.Logger) *Service {
	return &Service{
		problems: problems,
		crews:    crews,
		users:    users,
		events:   events,
		messages: messages,
		push:     push,
		sms:      sms,
		log:      log,
	}
}

// Input describes one message to dispatch.
type Input struct {
	SenderID  int64
	EventID   int64
	CrewType  string
	ProblemID int64
	Text      string
}

// SMSResult is the outcome of one outbound SMS leg.
type SMSResult struct {
	UserID int64
	Err    error
}

// Result reports what one dispatch persisted and delivered. The message and
// its receipts are stored transactionally before any gateway call, so a
// gateway failure shows up here rather than as a lost dispatch.
type Result struct {
	MessageID int64
	DedupKey  string
	Receipts  int
	PushErr   error
	SMS       []SMSResult
}

// Clean reports whether every delivery leg succeeded.
func (r Result) Clean() bool {
	if r.PushErr != nil {
		return false
	}
	for _, s := range r.SMS {
		if s.Err != nil {
			return false
		}
	}
	return true
}

// Dispatch persists the message, creates receipts for every push-capable
// recipient and performs the push and SMS legs best-effort.
func (s *Service) Dispatch(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	result, err := s.dispatch(ctx, in)
	metrics.DispatchSeconds.Observe(time.Since(started).Seconds())
	label := "ok"
	if err != nil {
		label = "failed"
	}
	metrics.DispatchesTotal.WithLabelValues(label).Inc()
	return result, err
}

func (s *Service) dispatch(ctx context.Context, in Input) (Result, error) {
	problem, err := s.problems.GetProblem(ctx, in.ProblemID)
	if err != nil {
		return Result{}, fmt.Errorf("load problem: %w", err)
	}

	members, err := s.crews.ListMembers(ctx, in.EventID, in.CrewType)
	if err != nil {
		return Result{}, fmt.Errorf("load crew: %w", err)
	}
	if len(members) == 0 {
		return Result{}, domain.ErrCrewNotFound
	}

	var (
		receiptIDs     []int64
		smsIDs         []int64
		senderInCrew   bool
		reporterInCrew bool
	)
	for _, m := range members {
		if m.UserID == in.SenderID {
			senderInCrew = true
		}
		if m.UserID == problem.ReporterID {
			reporterInCrew = true
		}
		if m.SMS {
			smsIDs = append(smsIDs, m.UserID)
		} else {
			receiptIDs = append(receiptIDs, m.UserID)
		}
	}

	sideTarget, err := resolveSideTarget(in.SenderID, problem.ReporterID, senderInCrew, reporterInCrew)
	if err != nil {
		return Result{}, err
	}
	if sideTarget != 0 {
		target, err := s.users.GetUser(ctx, sideTarget)
		if err != nil {
			return Result{}, fmt.Errorf("load side target: %w", err)
		}
		if target.OnApp() {
			receiptIDs = append(receiptIDs, target.ID)
		} else {
			smsIDs = append(smsIDs, target.ID)
		}
	}

	msg := domain.Message{
		EventID:   in.EventID,
		CrewType:  in.CrewType,
		ProblemID: in.ProblemID,
		Body:      in.Text,
		SenderID:  in.SenderID,
		DedupKey:  uuid.NewString(),
	}
	stored, err := s.messages.CreateWithReceipts(ctx, msg, receiptIDs)
	if err != nil {
		return Result{}, fmt.Errorf("persist message: %w", err)
	}

	result := Result{
		MessageID: stored.ID,
		DedupKey:  stored.DedupKey,
		Receipts:  len(receiptIDs),
	}

	if err := s.push.Broadcast(ctx, domain.PushBroadcast{
		Topic:     domain.Topic(in.EventID, in.CrewType),
		Title:     problem.Strip,
		Body:      in.Text,
		MessageID: stored.ID,
		DedupKey:  stored.DedupKey,
	}); err != nil {
		metrics.PushErrors.Inc()
		s.log.Warn().Err(err).Int64("message", stored.ID).Msg("push broadcast failed")
		result.PushErr = err
	}

	result.SMS = s.sendSMS(ctx, in, smsIDs)
	return result, nil
}

// sendSMS performs the SMS leg sequentially; one failing recipient does not
// abort the rest.
func (s *Service) sendSMS(ctx context.Context, in Input, smsIDs []int64) []SMSResult {
	if len(smsIDs) == 0 {
		return nil
	}
	results := make([]SMSResult, 0, len(smsIDs))
	event, err := s.events.GetEvent(ctx, in.EventID)
	if err != nil {
		err = fmt.Errorf("load event hotline: %w", err)
		for _, id := range smsIDs {
			results = append(results, SMSResult{UserID: id, Err: err})
		}
		return results
	}
	for _, id := range smsIDs {
		sendErr := s.sendOne(ctx, id, event.Hotline, in.Text)
		if sendErr != nil {
			metrics.SMSErrors.Inc()
			s.log.Warn().Err(sendErr).Int64("recipient", id).Msg("sms send failed")
		}
		results = append(results, SMSResult{UserID: id, Err: sendErr})
	}
	return results
}

func (s *Service) sendOne(ctx context.Context, userID int64, from, text string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if user.Mobile == "" {
		return domain.ErrNoMobile
	}
	if err := s.sms.Send(ctx, user.Mobile, from, text); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

// resolveSideTarget picks which of sender and reporter needs a direct
// notification because the crew broadcast will not reach them. Zero means
// nobody. When both are outside the crew they must be the same person
// reporting their own problem; that self-report gets no extra copy.
func resolveSideTarget(senderID, reporterID int64, senderInCrew, reporterInCrew bool) (int64, error) {
	switch {
	case reporterInCrew && senderInCrew:
		return 0, nil
	case reporterInCrew:
		return senderID, nil
	case senderInCrew:
		return reporterID, nil
	default:
		if senderID != reporterID {
			return 0, domain.ErrUnreachableParticipants
		}
		return 0, nil
	}
}
