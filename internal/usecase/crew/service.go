package crew

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
)

// Membership is what a client needs to take part in a crew: the crew it
// landed in and the push topic to subscribe to.
type Membership struct {
	EventID  int64  `json:"event_id"`
	CrewType string `json:"crew_type"`
	Topic    string `json:"topic"`
}

// Service manages crew membership and the push identity of users.
type Service struct {
	users domain.UserRepo
	crews domain.CrewRepo
	log   zerolog.Logger
}

func NewService(users domain.UserRepo, crews domain.CrewRepo, log zerolog.Logger) *Service {
	return &Service{users: users, crews: crews, log: log}
}

// Active returns the user's membership in the currently active event.
func (s *Service) Active(ctx context.Context, userID int64) (Membership, error) {
	member, err := s.crews.ActiveMembership(ctx, userID)
	if err != nil {
		return Membership{}, err
	}
	return Membership{
		EventID:  member.EventID,
		CrewType: member.CrewType,
		Topic:    domain.Topic(member.EventID, member.CrewType),
	}, nil
}

// Join resolves the user's membership in an active event, lazily creating it
// from the user's first allowed role when none exists yet. Users without any
// role tag cannot join.
func (s *Service) Join(ctx context.Context, userID, eventID int64) (Membership, error) {
	member, err := s.crews.ActiveMembership(ctx, userID)
	if err == nil {
		return Membership{
			EventID:  member.EventID,
			CrewType: member.CrewType,
			Topic:    domain.Topic(member.EventID, member.CrewType),
		}, nil
	}
	if !errors.Is(err, domain.ErrCrewNotFound) {
		return Membership{}, fmt.Errorf("resolve membership: %w", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Membership{}, fmt.Errorf("load user: %w", err)
	}
	role := user.AllowedRoles.First()
	if role == "" {
		return Membership{}, fmt.Errorf("user %d has no role tag: %w", userID, domain.ErrCrewNotFound)
	}
	// SMS stays the channel until the user links a push token
	if err := s.crews.AddCrewMember(ctx, eventID, string(role), userID, !user.OnApp()); err != nil {
		return Membership{}, fmt.Errorf("add crew member: %w", err)
	}
	s.log.Info().Int64("user_id", userID).Int64("event_id", eventID).
		Str("crew_type", string(role)).Msg("joined crew")
	return Membership{
		EventID:  eventID,
		CrewType: string(role),
		Topic:    domain.Topic(eventID, string(role)),
	}, nil
}

// LinkPushToken stores the user's push identity. Future dispatches reach this
// user over push instead of SMS.
func (s *Service) LinkPushToken(ctx context.Context, userID int64, token string) error {
	if token == "" {
		return nil
	}
	if err := s.users.SetPushToken(ctx, userID, token); err != nil {
		return fmt.Errorf("store push token: %w", err)
	}
	return nil
}
