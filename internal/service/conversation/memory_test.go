package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"support-chat-backend/internal/model"
)

type memoryRepository struct {
	mu       sync.Mutex
	sessions map[string]model.SessionItem
	messages map[string][]model.MessageItem
	anchors  map[string]model.VisitorSessionAnchor

	// loadBarrier, when set, holds every GetSession until the group is done.
	loadBarrier *sync.WaitGroup

	// Hooks run outside the lock.
	afterLoad       func(session model.SessionItem)
	afterListClosed func()

	failDeleteOf map[string]error

	// failMessageDeletes[id] counts DeleteMessages calls left to fail.
	failMessageDeletes map[string]int

	// lagIndexes hides new sessions from status and operator listings, the
	// way a secondary index does before it catches up.
	lagIndexes bool
	unindexed  map[string]bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		sessions:           make(map[string]model.SessionItem),
		messages:           make(map[string][]model.MessageItem),
		anchors:            make(map[string]model.VisitorSessionAnchor),
		failDeleteOf:       make(map[string]error),
		failMessageDeletes: make(map[string]int),
		unindexed:          make(map[string]bool),
	}
}

func (m *memoryRepository) GetVisitorAnchor(ctx context.Context, visitorID string) (model.VisitorSessionAnchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	anchor, ok := m.anchors[visitorID]
	if !ok {
		return model.VisitorSessionAnchor{}, ErrNotFound
	}
	return anchor, nil
}

func (m *memoryRepository) CreateSession(ctx context.Context, session model.SessionItem, anchorRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.SessionID]; ok {
		return ErrConflict
	}
	if m.anchors[session.VisitorID].Revision != anchorRevision {
		return ErrConflict
	}
	m.sessions[session.SessionID] = session
	m.anchors[session.VisitorID] = model.VisitorSessionAnchor{
		VisitorID: session.VisitorID,
		SessionID: session.SessionID,
		Revision:  anchorRevision + 1,
	}
	if m.lagIndexes {
		m.unindexed[session.SessionID] = true
	}
	return nil
}

func (m *memoryRepository) ReopenSession(ctx context.Context, session model.SessionItem, expectedVersion, anchorRevision int64) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	anchor := m.anchors[session.VisitorID]
	if anchor.Revision != anchorRevision || anchor.SessionID != session.SessionID {
		return model.SessionItem{}, ErrConflict
	}
	saved, err := m.updateLocked(session, expectedVersion)
	if err != nil {
		return model.SessionItem{}, err
	}
	anchor.Revision++
	m.anchors[session.VisitorID] = anchor
	return saved, nil
}

func (m *memoryRepository) GetSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	barrier := m.loadBarrier
	m.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	if !ok {
		return model.SessionItem{}, ErrNotFound
	}
	if m.afterLoad != nil {
		m.afterLoad(session)
	}
	return session, nil
}

func (m *memoryRepository) UpdateSessionState(ctx context.Context, session model.SessionItem, expectedVersion int64) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(session, expectedVersion)
}

func (m *memoryRepository) updateLocked(session model.SessionItem, expectedVersion int64) (model.SessionItem, error) {
	stored, ok := m.sessions[session.SessionID]
	if !ok || stored.Version != expectedVersion {
		return model.SessionItem{}, ErrConflict
	}
	stored.Status = session.Status
	stored.Priority = session.Priority
	stored.UpdatedAt = session.UpdatedAt
	stored.VisitorName = session.VisitorName
	stored.VisitorEmail = session.VisitorEmail
	stored.AssignedOperator = session.AssignedOperator
	stored.ClosedAt = session.ClosedAt
	stored.ClosedBy = session.ClosedBy
	stored.Satisfaction = session.Satisfaction
	stored.Version++
	m.sessions[session.SessionID] = stored
	return stored, nil
}

func (m *memoryRepository) filterSessions(keep func(model.SessionItem) bool) []model.SessionItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SessionItem
	for id, session := range m.sessions {
		if m.unindexed[id] {
			continue
		}
		if keep(session) {
			out = append(out, session)
		}
	}
	return out
}

func (m *memoryRepository) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.SessionItem, error) {
	out := m.filterSessions(func(s model.SessionItem) bool { return s.Status == status })
	sortByLastMessage(out)
	return out, nil
}

func (m *memoryRepository) ListSessionsByOperator(ctx context.Context, operatorID string) ([]model.SessionItem, error) {
	out := m.filterSessions(func(s model.SessionItem) bool { return s.AssignedOperator == operatorID })
	sortByLastMessage(out)
	return out, nil
}

func (m *memoryRepository) ListClosedBefore(ctx context.Context, cutoff string) ([]model.SessionItem, error) {
	out := m.filterSessions(func(s model.SessionItem) bool {
		return s.Status == model.SessionStatusClosed && s.UpdatedAt < cutoff
	})
	if m.afterListClosed != nil {
		m.afterListClosed()
	}
	return out, nil
}

func (m *memoryRepository) ClaimForPurge(ctx context.Context, sessionID, cutoff string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDeleteOf[sessionID]; err != nil {
		return err
	}
	session, ok := m.sessions[sessionID]
	if !ok || session.Status != model.SessionStatusClosed || session.UpdatedAt >= cutoff {
		return ErrConflict
	}
	session.Status = model.SessionStatusPurging
	session.Version++
	m.sessions[sessionID] = session
	return nil
}

func (m *memoryRepository) DeletePurgingSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status != model.SessionStatusPurging {
		return ErrConflict
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *memoryRepository) AllocateSeq(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if !session.Status.Open() {
		return 0, ErrConflict
	}
	session.MessageSeq++
	m.sessions[sessionID] = session
	return session.MessageSeq, nil
}

func (m *memoryRepository) TouchSession(ctx context.Context, sessionID, at string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.LastMessageAt > at {
		return nil
	}
	session.LastMessageAt = at
	session.UpdatedAt = at
	m.sessions[sessionID] = session
	return nil
}

func (m *memoryRepository) PutMessage(ctx context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages[message.SessionID] {
		if existing.Seq == message.Seq {
			return errors.New("duplicate seq")
		}
	}
	list := append(m.messages[message.SessionID], message)
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	m.messages[message.SessionID] = list
	return nil
}

func (m *memoryRepository) ListMessages(ctx context.Context, sessionID string, limit int, newestFirst bool) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.messages[sessionID]
	out := make([]model.MessageItem, 0, len(stored))
	if newestFirst {
		for i := len(stored) - 1; i >= 0; i-- {
			out = append(out, stored[i])
		}
	} else {
		out = append(out, stored...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepository) ListUnread(ctx context.Context, sessionID string, sender model.SenderRole) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MessageItem
	for _, message := range m.messages[sessionID] {
		if !message.IsRead && message.Sender == sender {
			out = append(out, message)
		}
	}
	return out, nil
}

func (m *memoryRepository) CountUnread(ctx context.Context, sessionID string, sender model.SenderRole) (int, error) {
	unread, err := m.ListUnread(ctx, sessionID, sender)
	return len(unread), err
}

func (m *memoryRepository) MarkMessageRead(ctx context.Context, sessionID string, seq int64, readAt string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.messages[sessionID]
	for i := range list {
		if list[i].Seq != seq {
			continue
		}
		if list[i].IsRead {
			return false, nil
		}
		list[i].IsRead = true
		list[i].ReadAt = readAt
		return true, nil
	}
	return false, nil
}

func (m *memoryRepository) DeleteMessages(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMessageDeletes[sessionID] > 0 {
		m.failMessageDeletes[sessionID]--
		return 0, errors.New("throttled")
	}
	n := len(m.messages[sessionID])
	delete(m.messages, sessionID)
	return n, nil
}

func (m *memoryRepository) sessionsOf(visitorID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, session := range m.sessions {
		if session.VisitorID == visitorID {
			n++
		}
	}
	return n
}

func (m *memoryRepository) messageCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[sessionID])
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
