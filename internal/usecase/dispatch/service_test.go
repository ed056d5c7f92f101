package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
)

type stubStore struct {
	problem domain.Problem
	members []domain.CrewMembership
	users   map[int64]domain.User
	event   domain.Event

	createErr error

	createdMsg        domain.Message
	createdRecipients []int64
	createCalls       int
}

func (s *stubStore) GetProblem(context.Context, int64) (domain.Problem, error) {
	return s.problem, nil
}
func (s *stubStore) OpenByReporter(context.Context, int64, int64) (domain.Problem, error) {
	return domain.Problem{}, domain.ErrProblemNotFound
}
func (s *stubStore) CreateProblem(context.Context, domain.Problem) (int64, error) { return 1, nil }
func (s *stubStore) ResolveProblem(context.Context, int64, int64, int) (bool, error) {
	return true, nil
}
func (s *stubStore) UpdateProblem(context.Context, int64, int64, string, string, string) (bool, error) {
	return true, nil
}
func (s *stubStore) ListOpen(context.Context, int64, string) ([]domain.OpenProblem, error) {
	return nil, nil
}
func (s *stubStore) ForceResolveOpen(context.Context, int64, int64, int) (int64, error) {
	return 0, nil
}

func (s *stubStore) ListMembers(context.Context, int64, string) ([]domain.CrewMembership, error) {
	return s.members, nil
}
func (s *stubStore) ActiveMembership(context.Context, int64) (domain.CrewMembership, error) {
	return domain.CrewMembership{}, domain.ErrCrewNotFound
}
func (s *stubStore) AddCrewMember(context.Context, int64, string, int64, bool) error { return nil }

func (s *stubStore) GetUser(_ context.Context, id int64) (domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}
func (s *stubStore) GetUserByMobile(context.Context, string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (s *stubStore) CreateFromMobile(context.Context, string, domain.Role) (domain.User, error) {
	return domain.User{}, nil
}
func (s *stubStore) SetPushToken(context.Context, int64, string) error { return nil }

func (s *stubStore) GetEvent(context.Context, int64) (domain.Event, error) { return s.event, nil }
func (s *stubStore) GetByHotline(context.Context, string) (domain.Event, error) {
	return s.event, nil
}
func (s *stubStore) ListStarted(context.Context, time.Time) ([]domain.Event, error) {
	return nil, nil
}
func (s *stubStore) ListEnded(context.Context, time.Time) ([]domain.Event, error) { return nil, nil }
func (s *stubStore) SetState(context.Context, int64, domain.EventState) error     { return nil }

func (s *stubStore) CreateWithReceipts(_ context.Context, msg domain.Message, recipientIDs []int64) (domain.Message, error) {
	s.createCalls++
	if s.createErr != nil {
		return domain.Message{}, s.createErr
	}
	msg.ID = 77
	s.createdMsg = msg
	s.createdRecipients = recipientIDs
	return msg, nil
}
func (s *stubStore) PendingForUser(context.Context, int64, int64, string) ([]domain.PendingMessage, error) {
	return nil, nil
}
func (s *stubStore) MarkFinished(context.Context, int64) error { return nil }

func (s *stubStore) Acknowledge(context.Context, int64, int64) (bool, error) { return true, nil }
func (s *stubStore) AckAllPending(context.Context, int64) (int64, error)     { return 0, nil }

type fakePush struct {
	calls []domain.PushBroadcast
	err   error
}

func (f *fakePush) Broadcast(_ context.Context, b domain.PushBroadcast) error {
	f.calls = append(f.calls, b)
	return f.err
}

type smsCall struct {
	to, from, body string
}

type fakeSMS struct {
	sends  []smsCall
	errFor map[string]error
}

func (f *fakeSMS) Send(_ context.Context, to, from, body string) error {
	f.sends = append(f.sends, smsCall{to: to, from: from, body: body})
	if f.errFor != nil {
		return f.errFor[to]
	}
	return nil
}

func member(eventID int64, userID int64, sms bool) domain.CrewMembership {
	return domain.CrewMembership{EventID: eventID, CrewType: "ARM", UserID: userID, SMS: sms}
}

func appUser(id int64) domain.User {
	return domain.User{ID: id, UserName: "user", PushToken: "tok"}
}

func smsUser(id int64, mobile string) domain.User {
	return domain.User{ID: id, UserName: "user", Mobile: mobile}
}

func newService(store *stubStore, push *fakePush, sms *fakeSMS) *Service {
	return NewService(store, store, store, store, store, push, sms, zerolog.Nop())
}

func TestDispatchFanout(t *testing.T) {
	// crew of 5: 3 push, 2 sms; sender and reporter both in crew
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", Strip: "A3", ReporterID: 11},
		members: []domain.CrewMembership{
			member(1, 10, false), member(1, 11, false), member(1, 12, false),
			member(1, 20, true), member(1, 21, true),
		},
		users: map[int64]domain.User{
			20: smsUser(20, "5550020"),
			21: smsUser(21, "5550021"),
		},
		event: domain.Event{ID: 1, Hotline: "5559999"},
	}
	push := &fakePush{}
	sms := &fakeSMS{}
	svc := newService(store, push, sms)

	result, err := svc.Dispatch(context.Background(), Input{
		SenderID: 10, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "on my way",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Receipts != 3 {
		t.Fatalf("receipts = %d, want 3", result.Receipts)
	}
	if len(store.createdRecipients) != 3 {
		t.Fatalf("stored receipts = %d, want 3", len(store.createdRecipients))
	}
	if len(push.calls) != 1 {
		t.Fatalf("push calls = %d, want 1", len(push.calls))
	}
	if push.calls[0].Topic != "1ARM" || push.calls[0].Title != "A3" {
		t.Fatalf("push payload = %+v", push.calls[0])
	}
	if push.calls[0].DedupKey == "" {
		t.Fatal("expected a dedup key in the push payload")
	}
	if len(sms.sends) != 2 {
		t.Fatalf("sms sends = %d, want 2", len(sms.sends))
	}
	for _, send := range sms.sends {
		if send.from != "5559999" {
			t.Fatalf("sms from = %q, want hotline", send.from)
		}
	}
	if !result.Clean() {
		t.Fatalf("expected clean result, got %+v", result)
	}
}

func TestResolveSideTarget(t *testing.T) {
	tests := []struct {
		name           string
		sender         int64
		reporter       int64
		senderInCrew   bool
		reporterInCrew bool
		want           int64
		wantErr        error
	}{
		{name: "both in crew", sender: 1, reporter: 2, senderInCrew: true, reporterInCrew: true, want: 0},
		{name: "sender outside", sender: 1, reporter: 2, reporterInCrew: true, want: 1},
		{name: "reporter outside", sender: 1, reporter: 2, senderInCrew: true, want: 2},
		{name: "self report outside", sender: 3, reporter: 3, want: 0},
		{name: "both outside different", sender: 1, reporter: 2, wantErr: domain.ErrUnreachableParticipants},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSideTarget(tt.sender, tt.reporter, tt.senderInCrew, tt.reporterInCrew)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("target = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDispatchSideTargetOnSMS(t *testing.T) {
	// sender outside the crew without a push token: gets one extra SMS
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", Strip: "B1", ReporterID: 11},
		members: []domain.CrewMembership{
			member(1, 11, false), member(1, 12, false), member(1, 20, true),
		},
		users: map[int64]domain.User{
			20:  smsUser(20, "5550020"),
			100: smsUser(100, "5550100"),
		},
		event: domain.Event{ID: 1, Hotline: "5559999"},
	}
	push := &fakePush{}
	sms := &fakeSMS{}
	svc := newService(store, push, sms)

	result, err := svc.Dispatch(context.Background(), Input{
		SenderID: 100, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "still broken",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Receipts != 2 {
		t.Fatalf("receipts = %d, want 2", result.Receipts)
	}
	if len(sms.sends) != 2 {
		t.Fatalf("sms sends = %d, want crew member plus side target", len(sms.sends))
	}
	if sms.sends[1].to != "5550100" {
		t.Fatalf("side target sms to = %q", sms.sends[1].to)
	}
}

func TestDispatchSideTargetOnApp(t *testing.T) {
	// reporter outside the crew with a push token: gets one extra receipt
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", Strip: "B1", ReporterID: 200},
		members: []domain.CrewMembership{
			member(1, 10, false), member(1, 11, false),
		},
		users: map[int64]domain.User{200: appUser(200)},
		event: domain.Event{ID: 1, Hotline: "5559999"},
	}
	push := &fakePush{}
	sms := &fakeSMS{}
	svc := newService(store, push, sms)

	result, err := svc.Dispatch(context.Background(), Input{
		SenderID: 10, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "looking at it",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Receipts != 3 {
		t.Fatalf("receipts = %d, want crew plus side target", result.Receipts)
	}
	if len(sms.sends) != 0 {
		t.Fatalf("sms sends = %d, want 0", len(sms.sends))
	}
	if store.createdRecipients[len(store.createdRecipients)-1] != 200 {
		t.Fatalf("expected reporter receipt, got %v", store.createdRecipients)
	}
}

func TestDispatchUnreachableParticipants(t *testing.T) {
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", ReporterID: 200},
		members: []domain.CrewMembership{member(1, 10, false)},
		users:   map[int64]domain.User{},
		event:   domain.Event{ID: 1},
	}
	svc := newService(store, &fakePush{}, &fakeSMS{})

	_, err := svc.Dispatch(context.Background(), Input{
		SenderID: 100, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "hello?",
	})
	if !errors.Is(err, domain.ErrUnreachableParticipants) {
		t.Fatalf("err = %v, want ErrUnreachableParticipants", err)
	}
	if store.createCalls != 0 {
		t.Fatal("message must not persist when the invariant fails")
	}
}

func TestDispatchSelfReportOutsideCrew(t *testing.T) {
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", Strip: "C2", ReporterID: 100},
		members: []domain.CrewMembership{member(1, 10, false), member(1, 20, true)},
		users:   map[int64]domain.User{20: smsUser(20, "5550020")},
		event:   domain.Event{ID: 1, Hotline: "5559999"},
	}
	push := &fakePush{}
	sms := &fakeSMS{}
	svc := newService(store, push, sms)

	result, err := svc.Dispatch(context.Background(), Input{
		SenderID: 100, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "A1 grounding",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	// the self-reporting outsider gets no extra copy of their own message
	if result.Receipts != 1 {
		t.Fatalf("receipts = %d, want 1", result.Receipts)
	}
	if len(sms.sends) != 1 || sms.sends[0].to != "5550020" {
		t.Fatalf("sms sends = %+v, want only the crew member", sms.sends)
	}
}

func TestDispatchPartialFanout(t *testing.T) {
	store := &stubStore{
		problem:    domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", ReporterID: 10},
		members:    []domain.CrewMembership{member(1, 10, false)},
		users:      map[int64]domain.User{},
		event:      domain.Event{ID: 1},
		createErr: domain.ErrPartialFanout,
	}
	svc := newService(store, &fakePush{}, &fakeSMS{})

	_, err := svc.Dispatch(context.Background(), Input{
		SenderID: 10, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "x",
	})
	if !errors.Is(err, domain.ErrPartialFanout) {
		t.Fatalf("err = %v, want ErrPartialFanout", err)
	}
}

func TestDispatchPushFailureKeepsSMSLeg(t *testing.T) {
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", ReporterID: 10},
		members: []domain.CrewMembership{member(1, 10, false), member(1, 20, true)},
		users:   map[int64]domain.User{20: smsUser(20, "5550020")},
		event:   domain.Event{ID: 1, Hotline: "5559999"},
	}
	push := &fakePush{err: errors.New("fcm down")}
	sms := &fakeSMS{}
	svc := newService(store, push, sms)

	result, err := svc.Dispatch(context.Background(), Input{
		SenderID: 10, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "x",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.PushErr == nil {
		t.Fatal("expected push error in result")
	}
	if len(sms.sends) != 1 {
		t.Fatalf("sms sends = %d, want 1 despite push failure", len(sms.sends))
	}
	if result.Clean() {
		t.Fatal("result must not be clean")
	}
}

func TestDispatchMissingMobile(t *testing.T) {
	store := &stubStore{
		problem: domain.Problem{ID: 9, EventID: 1, CrewType: "ARM", ReporterID: 10},
		members: []domain.CrewMembership{member(1, 10, false), member(1, 20, true), member(1, 21, true)},
		users: map[int64]domain.User{
			20: {ID: 20, UserName: "no-phone"},
			21: smsUser(21, "5550021"),
		},
		event: domain.Event{ID: 1, Hotline: "5559999"},
	}
	sms := &fakeSMS{}
	svc := newService(store, &fakePush{}, sms)

	result, err := svc.Dispatch(context.Background(), Input{
		SenderID: 10, EventID: 1, CrewType: "ARM", ProblemID: 9, Text: "x",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.SMS) != 2 {
		t.Fatalf("sms results = %d, want 2", len(result.SMS))
	}
	if !errors.Is(result.SMS[0].Err, domain.ErrNoMobile) {
		t.Fatalf("first result err = %v, want ErrNoMobile", result.SMS[0].Err)
	}
	if result.SMS[1].Err != nil {
		t.Fatalf("second result err = %v, want nil", result.SMS[1].Err)
	}
	if len(sms.sends) != 1 {
		t.Fatalf("gateway sends = %d, want 1", len(sms.sends))
	}
}
