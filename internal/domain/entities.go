package domain

import (
	"strconv"
	"time"
)

// EventState is the lifecycle state of an event.
type EventState int

const (
	EventPending  EventState = 0
	EventActive   EventState = 1
	EventFinished EventState = 2
)

// User is anyone known to the system: app crew members and SMS-only reporters.
// SMS reporters are provisioned on first contact with the phone number as name.
type User struct {
	ID           int64
	UserName     string
	FullName     string
	Mobile       string
	PushToken    string
	AllowedRoles RoleList
	CreatedAt    time.Time
}

// OnApp reports whether the user has linked a push identity.
func (u User) OnApp() bool {
	return u.PushToken != ""
}

// Event is one timed competition. Owned by the scheduler; read-only to the
// message core except for state transitions made by the sweeper.
type Event struct {
	ID      int64
	Name    string
	Hotline string
	StartAt time.Time
	EndAt   time.Time
	State   EventState
}

// CrewMembership assigns a user to one crew of one event. A user belongs to at
// most one crew per event; the SMS flag selects the delivery channel.
type CrewMembership struct {
	ID       int64
	EventID  int64
	CrewType string
	UserID   int64
	SMS      bool
}

// Problem is a structured incident report tied to a strip and a category.
type Problem struct {
	ID             int64
	EventID        int64
	CrewType       string
	Strip          string
	Category       string
	ReporterID     int64
	ReportedAt     time.Time
	ResolverID     *int64
	ResolutionCode *int
	ResolvedAt     *time.Time
}

// Open reports whether the problem still has no resolver.
func (p Problem) Open() bool {
	return p.ResolverID == nil
}

// Message is one crew message on a problem. Immutable once created; DedupKey
// travels in the push payload so clients can drop duplicate broadcasts.
type Message struct {
	ID         int64
	EventID    int64
	CrewType   string
	ProblemID  int64
	Body       string
	SenderID   int64
	DedupKey   string
	SentAt     time.Time
	FinishedAt *time.Time
}

// Receipt tracks whether one recipient has acknowledged one message.
// AckedAt nil means pending.
type Receipt struct {
	ID          int64
	EventID     int64
	ProblemID   int64
	MessageID   int64
	RecipientID int64
	AckedAt     *time.Time
}

// OpenProblem is a poll-view row of an unresolved problem.
type OpenProblem struct {
	ProblemID int64  `json:"problem_id"`
	Strip     string `json:"strip"`
	Category  string `json:"category"`
	Reporter  string `json:"reporter"`
}

// PendingMessage is a poll-view row of a message the user has not acknowledged.
type PendingMessage struct {
	MessageID int64  `json:"message_id"`
	ProblemID int64  `json:"problem_id"`
	Body      string `json:"body"`
}

// PollResult is the read side returned to a polling crew member.
type PollResult struct {
	Problems []OpenProblem    `json:"problems"`
	Messages []PendingMessage `json:"messages"`
}

// Topic is the push broadcast topic for one crew of one event.
func Topic(eventID int64, crewType string) string {
	return strconv.FormatInt(eventID, 10) + crewType
}
