package conversation

import (
	"context"
	"strings"

	"support-chat-backend/internal/model"
)

// UnreadCountForOperator sums unread visitor messages over the sessions the
// operator owns plus every waiting session.
func (s *Service) UnreadCountForOperator(ctx context.Context, operatorID string) (int, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return 0, newError(ErrorCodeValidation, "operatorId is required", nil)
	}

	owned, err := s.repo.ListSessionsByOperator(ctx, operatorID)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "failed to list operator sessions", err)
	}
	waiting, err := s.repo.ListSessionsByStatus(ctx, model.SessionStatusWaiting)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "failed to list waiting sessions", err)
	}

	seen := make(map[string]struct{}, len(owned)+len(waiting))
	total := 0
	for _, session := range append(owned, waiting...) {
		if _, ok := seen[session.SessionID]; ok {
			continue
		}
		seen[session.SessionID] = struct{}{}

		count, err := s.repo.CountUnread(ctx, session.SessionID, model.SenderVisitor)
		if err != nil {
			return 0, newError(ErrorCodeInternal, "failed to count unread messages", err)
		}
		total += count
	}
	return total, nil
}
