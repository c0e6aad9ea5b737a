package conversation

import (
	"context"
	"errors"
	"time"

	"support-chat-backend/internal/model"
)

const sweepTimeout = 5 * time.Minute

type CleanupReport struct {
	Sessions int
	Messages int
	// Skipped counts sessions that were reopened between listing and claim.
	Skipped int
	Failed  []string
}

// CleanupClosedSessions deletes closed sessions untouched for longer than the
// retention window, together with their messages. Each session is first
// claimed by moving it to purging, then its messages go, then the session.
// A failure leaves the session in purging and the next sweep resumes it; the
// sweep continues with the rest.
func (s *Service) CleanupClosedSessions(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	cutoff := model.FormatTime(s.now().Add(-s.retentionWindow))

	unfinished, err := s.repo.ListSessionsByStatus(ctx, model.SessionStatusPurging)
	if err != nil {
		return report, newError(ErrorCodeInternal, "failed to list purging sessions", err)
	}
	stale, err := s.repo.ListClosedBefore(ctx, cutoff)
	if err != nil {
		return report, newError(ErrorCodeInternal, "failed to list closed sessions", err)
	}

	for _, session := range unfinished {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.purge(ctx, session.SessionID, &report)
	}

	for _, session := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := s.repo.ClaimForPurge(ctx, session.SessionID, cutoff); err != nil {
			if errors.Is(err, ErrConflict) {
				report.Skipped++
				continue
			}
			s.logger.Error("conversation: claim session for purge failed", "sessionId", session.SessionID, "error", err)
			report.Failed = append(report.Failed, session.SessionID)
			continue
		}
		s.purge(ctx, session.SessionID, &report)
	}

	recordSweep(report)
	return report, nil
}

// purge removes the messages of a claimed session and then the session.
func (s *Service) purge(ctx context.Context, sessionID string, report *CleanupReport) {
	deleted, err := s.repo.DeleteMessages(ctx, sessionID)
	report.Messages += deleted
	if err != nil {
		s.logger.Error("conversation: delete messages failed", "sessionId", sessionID, "error", err)
		report.Failed = append(report.Failed, sessionID)
		return
	}

	if err := s.repo.DeletePurgingSession(ctx, sessionID); err != nil {
		if errors.Is(err, ErrConflict) {
			// Already gone.
			return
		}
		s.logger.Error("conversation: delete session failed", "sessionId", sessionID, "error", err)
		report.Failed = append(report.Failed, sessionID)
		return
	}
	report.Sessions++
}

// StartSweeper runs retention cleanup and waiting-session escalation every
// interval until ctx is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval, escalateAfter time.Duration) {
	if interval <= 0 {
		s.logger.Info("conversation: sweeper disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("conversation: sweeper stopped")
				return
			case <-ticker.C:
				s.sweep(ctx, escalateAfter)
			}
		}
	}()

	s.logger.Info("conversation: sweeper started", "interval", interval.String())
}

func (s *Service) sweep(parent context.Context, escalateAfter time.Duration) {
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()

	report, err := s.CleanupClosedSessions(ctx)
	if err != nil {
		s.logger.Error("conversation: cleanup failed", "error", err)
	} else if report.Sessions > 0 || len(report.Failed) > 0 {
		s.logger.Info("conversation: cleanup finished",
			"sessions", report.Sessions,
			"messages", report.Messages,
			"skipped", report.Skipped,
			"failed", len(report.Failed),
		)
	}

	count, err := s.EscalateStaleWaiting(ctx, escalateAfter)
	if err != nil {
		s.logger.Error("conversation: escalation failed", "error", err)
	} else if count > 0 {
		s.logger.Info("conversation: escalated waiting sessions", "count", count)
	}
}
