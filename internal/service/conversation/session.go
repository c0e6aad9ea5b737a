package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-chat-backend/internal/events"
	"support-chat-backend/internal/model"

	"github.com/google/uuid"
)

const defaultVisitorName = "Visitor"

type FindOrCreateParams struct {
	VisitorID    string
	VisitorName  string
	VisitorEmail string
}

type SessionResult struct {
	Session  model.SessionItem
	Created  bool
	Reopened bool
}

// FindOrCreateForVisitor returns the visitor's open session, reopens one
// updated within the reopen window, or creates a new waiting session.
func (s *Service) FindOrCreateForVisitor(ctx context.Context, params FindOrCreateParams) (SessionResult, error) {
	visitorID := strings.TrimSpace(params.VisitorID)
	if visitorID == "" {
		return SessionResult{}, newError(ErrorCodeValidation, "visitorId is required", nil)
	}
	name := strings.TrimSpace(params.VisitorName)
	email := strings.TrimSpace(params.VisitorEmail)

	unlock := s.visitorLocks.Lock(visitorID)
	defer unlock()

	for attempt := 0; attempt < casAttempts; attempt++ {
		latest, revision, err := s.latestForVisitor(ctx, visitorID)
		if err != nil {
			return SessionResult{}, newError(ErrorCodeInternal, "failed to load sessions", err)
		}
		if latest != nil && latest.Status.Open() {
			return SessionResult{Session: *latest}, nil
		}

		now := s.now().UTC()
		if latest != nil && latest.Status == model.SessionStatusClosed && now.Sub(model.ParseTime(latest.UpdatedAt)) <= s.reopenWindow {
			reopened := *latest
			reopened.Status = model.SessionStatusWaiting
			reopened.ClosedAt = ""
			reopened.ClosedBy = ""
			reopened.Satisfaction = nil
			reopened.UpdatedAt = model.FormatTime(now)
			if name != "" {
				reopened.VisitorName = name
			}
			if email != "" {
				reopened.VisitorEmail = email
			}

			saved, err := s.repo.ReopenSession(ctx, reopened, latest.Version, revision)
			if errors.Is(err, ErrConflict) {
				continue
			}
			if err != nil {
				return SessionResult{}, newError(ErrorCodeInternal, "failed to reopen session", err)
			}

			s.publish(ctx, events.SessionReopened, saved, "")
			return SessionResult{Session: saved, Reopened: true}, nil
		}

		sessionName := name
		if sessionName == "" {
			sessionName = defaultVisitorName
		}
		nowStr := model.FormatTime(now)
		session := model.SessionItem{
			SessionID:     uuid.NewString(),
			VisitorID:     visitorID,
			VisitorName:   sessionName,
			VisitorEmail:  email,
			Status:        model.SessionStatusWaiting,
			Priority:      model.PriorityMedium,
			LastMessageAt: nowStr,
			CreatedAt:     nowStr,
			UpdatedAt:     nowStr,
			Version:       1,
		}
		err = s.repo.CreateSession(ctx, session, revision)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return SessionResult{}, newError(ErrorCodeInternal, "failed to create session", err)
		}

		s.publish(ctx, events.SessionCreated, session, "")
		return SessionResult{Session: session, Created: true}, nil
	}

	return SessionResult{}, newError(ErrorCodeConflict, "session changed concurrently, retry", ErrConflict)
}

// latestForVisitor follows the visitor anchor to the latest session. It
// returns a nil session when the visitor has none or it was purged, along
// with the anchor revision to guard the next write.
func (s *Service) latestForVisitor(ctx context.Context, visitorID string) (*model.SessionItem, int64, error) {
	anchor, err := s.repo.GetVisitorAnchor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	session, err := s.repo.GetSession(ctx, anchor.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, anchor.Revision, nil
		}
		return nil, 0, err
	}
	if session.Status == model.SessionStatusPurging {
		return nil, anchor.Revision, nil
	}
	return &session, anchor.Revision, nil
}

// Assign makes operatorID the owner of the session and activates it. Of two
// concurrent claims exactly one succeeds; the other gets a conflict.
func (s *Service) Assign(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return model.SessionItem{}, newError(ErrorCodeValidation, "operatorId is required", nil)
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return model.SessionItem{}, err
	}

	if session.Status.Ended() {
		return model.SessionItem{}, newError(ErrorCodeConflict, "session is closed", nil)
	}
	if session.Status == model.SessionStatusActive && session.AssignedOperator == operatorID {
		return session, nil
	}

	updated := session
	updated.Status = model.SessionStatusActive
	updated.AssignedOperator = operatorID
	updated.UpdatedAt = model.FormatTime(s.now())

	saved, err := s.repo.UpdateSessionState(ctx, updated, session.Version)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return model.SessionItem{}, newError(ErrorCodeConflict, "session was updated by another operator", err)
		}
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to assign session", err)
	}

	s.publish(ctx, events.SessionAssigned, saved, operatorID)
	return saved, nil
}

// Close is valid from any non-closed state.
func (s *Service) Close(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return model.SessionItem{}, newError(ErrorCodeValidation, "operatorId is required", nil)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		session, err := s.loadSession(ctx, sessionID)
		if err != nil {
			return model.SessionItem{}, err
		}
		if session.Status.Ended() {
			return model.SessionItem{}, newError(ErrorCodeConflict, "session is already closed", nil)
		}

		now := model.FormatTime(s.now())
		updated := session
		updated.Status = model.SessionStatusClosed
		updated.ClosedAt = now
		updated.ClosedBy = operatorID
		updated.UpdatedAt = now

		saved, err := s.repo.UpdateSessionState(ctx, updated, session.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return model.SessionItem{}, newError(ErrorCodeInternal, "failed to close session", err)
		}

		s.publish(ctx, events.SessionClosed, saved, operatorID)
		return saved, nil
	}

	return model.SessionItem{}, newError(ErrorCodeConflict, "session changed concurrently, retry", ErrConflict)
}

// ListQueue returns waiting and active sessions, most recent activity first.
func (s *Service) ListQueue(ctx context.Context) ([]model.SessionItem, error) {
	var queue []model.SessionItem
	for _, status := range []model.SessionStatus{model.SessionStatusWaiting, model.SessionStatusActive} {
		sessions, err := s.repo.ListSessionsByStatus(ctx, status)
		if err != nil {
			return nil, newError(ErrorCodeInternal, "failed to list sessions", err)
		}
		queue = append(queue, sessions...)
	}
	sortByLastMessage(queue)
	if queue == nil {
		queue = []model.SessionItem{}
	}
	return queue, nil
}

// GetSession returns nil when the session does not exist.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.SessionItem, error) {
	session, err := s.repo.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, newError(ErrorCodeInternal, "failed to load session", err)
	}
	return &session, nil
}

// GetSessionByVisitor returns the visitor's latest session, which is the
// open one when the visitor has an open session, or nil.
func (s *Service) GetSessionByVisitor(ctx context.Context, visitorID string) (*model.SessionItem, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, newError(ErrorCodeValidation, "visitorId is required", nil)
	}

	latest, _, err := s.latestForVisitor(ctx, visitorID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to load sessions", err)
	}
	return latest, nil
}

// RecentSession returns the visitor's most recent session when it was updated
// within the reopen window, or nil.
func (s *Service) RecentSession(ctx context.Context, visitorID string) (*model.SessionItem, error) {
	session, err := s.GetSessionByVisitor(ctx, visitorID)
	if err != nil || session == nil {
		return nil, err
	}
	if s.now().Sub(model.ParseTime(session.UpdatedAt)) > s.reopenWindow {
		return nil, nil
	}
	return session, nil
}

// RateSession stores the visitor's satisfaction rating on a closed session.
func (s *Service) RateSession(ctx context.Context, sessionID, visitorID string, rating int, feedback string) (model.SessionItem, error) {
	if rating < 1 || rating > 5 {
		return model.SessionItem{}, newError(ErrorCodeValidation, "rating must be between 1 and 5", nil)
	}
	feedback = strings.TrimSpace(feedback)
	if len(feedback) > 2000 {
		return model.SessionItem{}, newError(ErrorCodeValidation, "feedback is too long", nil)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		session, err := s.loadSession(ctx, sessionID)
		if err != nil {
			return model.SessionItem{}, err
		}
		if session.VisitorID != strings.TrimSpace(visitorID) {
			return model.SessionItem{}, newError(ErrorCodeForbidden, "session belongs to another visitor", nil)
		}
		if session.Status != model.SessionStatusClosed {
			return model.SessionItem{}, newError(ErrorCodeConflict, "only closed sessions can be rated", nil)
		}

		updated := session
		updated.Satisfaction = &model.Satisfaction{
			Rating:   rating,
			Feedback: feedback,
			RatedAt:  model.FormatTime(s.now()),
		}

		saved, err := s.repo.UpdateSessionState(ctx, updated, session.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return model.SessionItem{}, newError(ErrorCodeInternal, "failed to rate session", err)
		}

		s.publish(ctx, events.SessionRated, saved, "")
		return saved, nil
	}

	return model.SessionItem{}, newError(ErrorCodeConflict, "session changed concurrently, retry", ErrConflict)
}

// EscalateStaleWaiting raises the priority of sessions that have waited
// longer than after. It returns the number of sessions escalated.
func (s *Service) EscalateStaleWaiting(ctx context.Context, after time.Duration) (int, error) {
	if after <= 0 {
		return 0, nil
	}

	waiting, err := s.repo.ListSessionsByStatus(ctx, model.SessionStatusWaiting)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "failed to list waiting sessions", err)
	}

	now := s.now()
	escalated := 0
	for _, session := range waiting {
		if session.Priority == model.PriorityHigh || now.Sub(model.ParseTime(session.UpdatedAt)) < after {
			continue
		}
		updated := session
		updated.Priority = model.PriorityHigh
		// Escalation is not visitor activity; updatedAt stays put.
		updated.UpdatedAt = session.UpdatedAt

		if _, err := s.repo.UpdateSessionState(ctx, updated, session.Version); err != nil {
			if !errors.Is(err, ErrConflict) {
				s.logger.Error("conversation: escalate failed", "sessionId", session.SessionID, "error", err)
			}
			continue
		}
		escalated++
	}
	escalations.Add(float64(escalated))
	return escalated, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return model.SessionItem{}, newError(ErrorCodeValidation, "sessionId is required", nil)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.SessionItem{}, newError(ErrorCodeNotFound, "session not found", err)
		}
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to load session", err)
	}
	return session, nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, session model.SessionItem, operatorID string) {
	s.events.Publish(ctx, events.Event{
		Type:       typ,
		SessionID:  session.SessionID,
		VisitorID:  session.VisitorID,
		OperatorID: operatorID,
		Attributes: map[string]string{"status": string(session.Status)},
		OccurredAt: s.now().UTC(),
	})
}
