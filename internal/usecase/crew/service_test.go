package crew

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
)

type stubStore struct {
	user       domain.User
	userErr    error
	membership *domain.CrewMembership

	added     []domain.CrewMembership
	tokens    map[int64]string
	tokensErr error
}

func (s *stubStore) GetUser(context.Context, int64) (domain.User, error) {
	return s.user, s.userErr
}
func (s *stubStore) GetUserByMobile(context.Context, string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (s *stubStore) CreateFromMobile(context.Context, string, domain.Role) (domain.User, error) {
	return domain.User{}, nil
}
func (s *stubStore) SetPushToken(_ context.Context, userID int64, token string) error {
	if s.tokensErr != nil {
		return s.tokensErr
	}
	if s.tokens == nil {
		s.tokens = map[int64]string{}
	}
	s.tokens[userID] = token
	return nil
}

func (s *stubStore) ListMembers(context.Context, int64, string) ([]domain.CrewMembership, error) {
	return nil, nil
}
func (s *stubStore) ActiveMembership(context.Context, int64) (domain.CrewMembership, error) {
	if s.membership == nil {
		return domain.CrewMembership{}, domain.ErrCrewNotFound
	}
	return *s.membership, nil
}
func (s *stubStore) AddCrewMember(_ context.Context, eventID int64, crewType string, userID int64, sms bool) error {
	s.added = append(s.added, domain.CrewMembership{
		EventID: eventID, CrewType: crewType, UserID: userID, SMS: sms,
	})
	return nil
}

func TestJoinExistingMembership(t *testing.T) {
	store := &stubStore{
		membership: &domain.CrewMembership{EventID: 3, CrewType: "REF", UserID: 7},
	}
	svc := NewService(store, store, zerolog.Nop())

	got, err := svc.Join(context.Background(), 7, 9)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	// the active membership wins over the requested event
	if got.EventID != 3 || got.CrewType != "REF" || got.Topic != "3REF" {
		t.Fatalf("membership = %+v", got)
	}
	if len(store.added) != 0 {
		t.Fatal("must not create a second membership")
	}
}

func TestJoinCreatesFromRole(t *testing.T) {
	store := &stubStore{
		user: domain.User{ID: 7, AllowedRoles: "ARM,REF", Mobile: "5550001"},
	}
	svc := NewService(store, store, zerolog.Nop())

	got, err := svc.Join(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got.CrewType != "ARM" || got.Topic != "3ARM" {
		t.Fatalf("membership = %+v", got)
	}
	if len(store.added) != 1 {
		t.Fatalf("added = %+v", store.added)
	}
	if !store.added[0].SMS {
		t.Fatal("user without push token must join on the sms channel")
	}
}

func TestJoinPushUserOnAppChannel(t *testing.T) {
	store := &stubStore{
		user: domain.User{ID: 7, AllowedRoles: "BOUT", PushToken: "tok"},
	}
	svc := NewService(store, store, zerolog.Nop())

	if _, err := svc.Join(context.Background(), 7, 3); err != nil {
		t.Fatalf("join: %v", err)
	}
	if store.added[0].SMS {
		t.Fatal("push-capable user must not join on the sms channel")
	}
}

func TestJoinWithoutRole(t *testing.T) {
	store := &stubStore{user: domain.User{ID: 7}}
	svc := NewService(store, store, zerolog.Nop())

	_, err := svc.Join(context.Background(), 7, 3)
	if !errors.Is(err, domain.ErrCrewNotFound) {
		t.Fatalf("err = %v, want ErrCrewNotFound", err)
	}
}

func TestLinkPushToken(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, store, zerolog.Nop())

	if err := svc.LinkPushToken(context.Background(), 7, "tok-1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if store.tokens[7] != "tok-1" {
		t.Fatalf("tokens = %v", store.tokens)
	}
	// empty token is a no-op, not an unlink
	if err := svc.LinkPushToken(context.Background(), 7, ""); err != nil {
		t.Fatalf("link empty: %v", err)
	}
	if store.tokens[7] != "tok-1" {
		t.Fatalf("tokens after empty link = %v", store.tokens)
	}
}
