package receipts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"stripcall/internal/domain"
)

// Service covers the read/acknowledge side of message delivery.
type Service struct {
	receipts domain.ReceiptRepo
	problems domain.ProblemRepo
	messages domain.MessageRepo
	log      zerolog.Logger
}

func NewService(receipts domain.ReceiptRepo, problems domain.ProblemRepo,
	messages domain.MessageRepo, log zerolog.Logger) *Service {
	return &Service{
		receipts: receipts,
		problems: problems,
		messages: messages,
		log:      log,
	}
}

// Acknowledge stamps the user's pending receipt for a message. A repeated
// acknowledgement affects no rows and is reported as affected=false with no
// error.
func (s *Service) Acknowledge(ctx context.Context, userID, messageID int64) (bool, error) {
	affected, err := s.receipts.Acknowledge(ctx, userID, messageID)
	if err != nil {
		return false, fmt.Errorf("acknowledge receipt: %w", err)
	}
	if !affected {
		s.log.Debug().Int64("user_id", userID).Int64("message_id", messageID).
			Msg("receipt already acknowledged")
	}
	return affected, nil
}

// Poll returns the crew's unresolved problems and the caller's unacknowledged
// messages. Read-only.
func (s *Service) Poll(ctx context.Context, userID, eventID int64, crewType string) (domain.PollResult, error) {
	problems, err := s.problems.ListOpen(ctx, eventID, crewType)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("list open problems: %w", err)
	}
	messages, err := s.messages.PendingForUser(ctx, userID, eventID, crewType)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("list pending messages: %w", err)
	}
	return domain.PollResult{Problems: problems, Messages: messages}, nil
}
