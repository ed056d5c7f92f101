package domain

import (
	"context"
	"time"
)

// UserRepo manages users.
type UserRepo interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByMobile(ctx context.Context, mobile string) (User, error)
	CreateFromMobile(ctx context.Context, mobile string, role Role) (User, error)
	SetPushToken(ctx context.Context, userID int64, token string) error
}

// EventRepo reads events and applies sweeper state transitions.
type EventRepo interface {
	GetEvent(ctx context.Context, id int64) (Event, error)
	GetByHotline(ctx context.Context, hotline string) (Event, error)
	// ListStarted returns pending events whose time window contains now.
	ListStarted(ctx context.Context, now time.Time) ([]Event, error)
	// ListEnded returns active events whose time window has closed.
	ListEnded(ctx context.Context, now time.Time) ([]Event, error)
	SetState(ctx context.Context, eventID int64, state EventState) error
}

// CrewRepo manages crew memberships.
type CrewRepo interface {
	ListMembers(ctx context.Context, eventID int64, crewType string) ([]CrewMembership, error)
	// ActiveMembership returns the caller's membership in the currently
	// active event, or ErrCrewNotFound.
	ActiveMembership(ctx context.Context, userID int64) (CrewMembership, error)
	AddCrewMember(ctx context.Context, eventID int64, crewType string, userID int64, sms bool) error
}

// ProblemRepo manages problem reports.
type ProblemRepo interface {
	GetProblem(ctx context.Context, id int64) (Problem, error)
	// OpenByReporter returns this reporter's open problem in the event,
	// or ErrProblemNotFound.
	OpenByReporter(ctx context.Context, reporterID, eventID int64) (Problem, error)
	CreateProblem(ctx context.Context, p Problem) (int64, error)
	ResolveProblem(ctx context.Context, resolverID, problemID int64, resolutionCode int) (bool, error)
	UpdateProblem(ctx context.Context, userID, problemID int64, crewType, strip, category string) (bool, error)
	ListOpen(ctx context.Context, eventID int64, crewType string) ([]OpenProblem, error)
	// ForceResolveOpen closes every open problem of the event, used when the
	// event finishes. Returns the number of problems closed.
	ForceResolveOpen(ctx context.Context, eventID, resolverID int64, resolutionCode int) (int64, error)
}

// MessageRepo stores messages and the receipts created alongside them.
type MessageRepo interface {
	// CreateWithReceipts inserts the message and one pending receipt per
	// recipient in a single transaction and returns the stored message with
	// its generated id. ErrPartialFanout when the receipt batch comes up
	// short.
	CreateWithReceipts(ctx context.Context, msg Message, recipientIDs []int64) (Message, error)
	PendingForUser(ctx context.Context, userID, eventID int64, crewType string) ([]PendingMessage, error)
	// MarkFinished stamps every message of the event for batch cleanup.
	MarkFinished(ctx context.Context, eventID int64) error
}

// ReceiptRepo acknowledges delivery receipts.
type ReceiptRepo interface {
	// Acknowledge stamps the pending receipt for (message, user) and reports
	// whether a row was affected. Re-acknowledging is affected=false, nil
	// error.
	Acknowledge(ctx context.Context, userID, messageID int64) (bool, error)
	// AckAllPending closes every pending receipt of the event.
	AckAllPending(ctx context.Context, eventID int64) (int64, error)
}

// PushBroadcast is one crew-wide push notification.
type PushBroadcast struct {
	Topic     string
	Title     string
	Body      string
	MessageID int64
	DedupKey  string
}

// PushGateway broadcasts one notification to a crew topic.
type PushGateway interface {
	Broadcast(ctx context.Context, b PushBroadcast) error
}

// SMSGateway sends one outbound SMS.
type SMSGateway interface {
	Send(ctx context.Context, to, from, body string) error
}

// Cache is a simple TTL store.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
