package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"support-chat-backend/internal/model"
)

func newTestService(repo Repository, c *clock) *Service {
	return NewWithRepository(repo, Options{
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Now:    c.Now,
	})
}

func newFixture() (*Service, *memoryRepository, *clock) {
	repo := newMemoryRepository()
	c := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return newTestService(repo, c), repo, c
}

func mustOpen(t *testing.T, svc *Service, visitorID string) model.SessionItem {
	t.Helper()
	result, err := svc.FindOrCreateForVisitor(context.Background(), FindOrCreateParams{VisitorID: visitorID})
	if err != nil {
		t.Fatalf("FindOrCreateForVisitor: %v", err)
	}
	return result.Session
}

func mustSend(t *testing.T, svc *Service, sessionID string, sender model.SenderRole, text string) model.MessageItem {
	t.Helper()
	message, err := svc.AppendMessage(context.Background(), AppendParams{
		SessionID: sessionID,
		Sender:    sender,
		Content:   MessageContent{Text: text},
	})
	if err != nil {
		t.Fatalf("AppendMessage(%q): %v", text, err)
	}
	return message
}

func TestFindOrCreateReturnsOpenSession(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	first, err := svc.FindOrCreateForVisitor(ctx, FindOrCreateParams{VisitorID: "v-1", VisitorName: "Ann"})
	if err != nil {
		t.Fatalf("FindOrCreateForVisitor: %v", err)
	}
	if !first.Created || first.Session.Status != model.SessionStatusWaiting {
		t.Fatalf("expected a new waiting session, got %+v", first)
	}
	if first.Session.Priority != model.PriorityMedium {
		t.Fatalf("expected medium priority, got %s", first.Session.Priority)
	}

	second, err := svc.FindOrCreateForVisitor(ctx, FindOrCreateParams{VisitorID: "v-1"})
	if err != nil {
		t.Fatalf("FindOrCreateForVisitor: %v", err)
	}
	if second.Created || second.Session.SessionID != first.Session.SessionID {
		t.Fatalf("expected the open session to be returned, got %+v", second)
	}
}

func TestFindOrCreateConcurrentCallsShareOneSession(t *testing.T) {
	svc, repo, _ := newFixture()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.FindOrCreateForVisitor(context.Background(), FindOrCreateParams{VisitorID: "v-race"})
			if err != nil {
				t.Errorf("FindOrCreateForVisitor: %v", err)
				return
			}
			ids[i] = result.Session.SessionID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one session, got %v", ids)
		}
	}
	if got := len(repo.sessions); got != 1 {
		t.Fatalf("expected 1 stored session, got %d", got)
	}
}

func TestFindOrCreateDoesNotDependOnIndexes(t *testing.T) {
	svc, repo, c := newFixture()
	repo.lagIndexes = true

	first := mustOpen(t, svc, "v-1")
	second := mustOpen(t, svc, "v-1")
	if first.SessionID != second.SessionID {
		t.Fatalf("back-to-back calls opened two sessions: %s, %s", first.SessionID, second.SessionID)
	}
	if got := repo.sessionsOf("v-1"); got != 1 {
		t.Fatalf("expected 1 session for v-1, got %d", got)
	}

	if _, err := svc.Close(context.Background(), first.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Advance(25 * time.Hour)
	third := mustOpen(t, svc, "v-1")
	fourth := mustOpen(t, svc, "v-1")
	if third.SessionID == first.SessionID || third.SessionID != fourth.SessionID {
		t.Fatalf("expected one new session after the window, got %s then %s", third.SessionID, fourth.SessionID)
	}
}

func TestFindOrCreateAcrossInstancesCreatesOnce(t *testing.T) {
	repo := newMemoryRepository()
	c := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	// Separate services share the store but not the in-process visitor lock.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		svc := newTestService(repo, c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.FindOrCreateForVisitor(context.Background(), FindOrCreateParams{VisitorID: "v-race"}); err != nil && !IsCode(err, ErrorCodeConflict) {
				t.Errorf("FindOrCreateForVisitor: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := repo.sessionsOf("v-race"); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}
}

func TestFindOrCreateRequiresVisitor(t *testing.T) {
	svc, _, _ := newFixture()
	_, err := svc.FindOrCreateForVisitor(context.Background(), FindOrCreateParams{VisitorID: "  "})
	if !IsCode(err, ErrorCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReopenWindow(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()

	session := mustOpen(t, svc, "v-1")
	if _, err := svc.Assign(ctx, session.SessionID, "op-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Close(ctx, session.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c.Advance(time.Hour)
	result, err := svc.FindOrCreateForVisitor(ctx, FindOrCreateParams{VisitorID: "v-1"})
	if err != nil {
		t.Fatalf("FindOrCreateForVisitor: %v", err)
	}
	if !result.Reopened || result.Session.SessionID != session.SessionID {
		t.Fatalf("expected the closed session to reopen, got %+v", result)
	}
	if result.Session.Status != model.SessionStatusWaiting {
		t.Fatalf("expected waiting, got %s", result.Session.Status)
	}
	if result.Session.ClosedAt != "" || result.Session.ClosedBy != "" {
		t.Fatalf("closure fields should be cleared, got %q/%q", result.Session.ClosedAt, result.Session.ClosedBy)
	}
	if result.Session.AssignedOperator != "op-1" {
		t.Fatalf("previous operator should be kept, got %q", result.Session.AssignedOperator)
	}

	other := mustOpen(t, svc, "v-2")
	if _, err := svc.Close(ctx, other.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Advance(25 * time.Hour)
	late, err := svc.FindOrCreateForVisitor(ctx, FindOrCreateParams{VisitorID: "v-2"})
	if err != nil {
		t.Fatalf("FindOrCreateForVisitor: %v", err)
	}
	if !late.Created || late.Session.SessionID == other.SessionID {
		t.Fatalf("expected a brand-new session after the window, got %+v", late)
	}
}

func TestAssignExclusivity(t *testing.T) {
	svc, repo, _ := newFixture()
	session := mustOpen(t, svc, "v-1")

	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	repo.mu.Lock()
	repo.loadBarrier = barrier
	repo.mu.Unlock()

	operators := []string{"op-a", "op-b"}
	errs := make([]error, len(operators))
	var wg sync.WaitGroup
	for i, op := range operators {
		wg.Add(1)
		go func(i int, op string) {
			defer wg.Done()
			_, errs[i] = svc.Assign(context.Background(), session.SessionID, op)
		}(i, op)
	}
	wg.Wait()

	repo.mu.Lock()
	repo.loadBarrier = nil
	repo.mu.Unlock()

	winner := ""
	conflicts := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winner = operators[i]
		case IsCode(err, ErrorCodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winner == "" || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %v", errs)
	}

	stored, err := svc.GetSession(context.Background(), session.SessionID)
	if err != nil || stored == nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.AssignedOperator != winner || stored.Status != model.SessionStatusActive {
		t.Fatalf("session should keep the winner %s, got %+v", winner, stored)
	}
}

func TestAssignTransitions(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	first, err := svc.Assign(ctx, session.SessionID, "op-1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	again, err := svc.Assign(ctx, session.SessionID, "op-1")
	if err != nil {
		t.Fatalf("Assign same operator: %v", err)
	}
	if again.Version != first.Version {
		t.Fatalf("reassigning the same operator should not write, versions %d vs %d", first.Version, again.Version)
	}

	moved, err := svc.Assign(ctx, session.SessionID, "op-2")
	if err != nil {
		t.Fatalf("Assign other operator: %v", err)
	}
	if moved.AssignedOperator != "op-2" {
		t.Fatalf("expected overwrite, got %s", moved.AssignedOperator)
	}

	if _, err := svc.Close(ctx, session.SessionID, "op-2"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Assign(ctx, session.SessionID, "op-1"); !IsCode(err, ErrorCodeConflict) {
		t.Fatalf("assigning a closed session should conflict, got %v", err)
	}
	if _, err := svc.Assign(ctx, "missing", "op-1"); !IsCode(err, ErrorCodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClose(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	closed, err := svc.Close(ctx, session.SessionID, "op-1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != model.SessionStatusClosed || closed.ClosedBy != "op-1" {
		t.Fatalf("unexpected closed session %+v", closed)
	}
	if closed.ClosedAt != model.FormatTime(c.Now()) {
		t.Fatalf("closedAt = %s", closed.ClosedAt)
	}

	if _, err := svc.Close(ctx, session.SessionID, "op-1"); !IsCode(err, ErrorCodeConflict) {
		t.Fatalf("closing twice should conflict, got %v", err)
	}
	if _, err := svc.AppendMessage(ctx, AppendParams{
		SessionID: session.SessionID,
		Sender:    model.SenderAdmin,
		Content:   MessageContent{Text: "late"},
	}); !IsCode(err, ErrorCodeConflict) {
		t.Fatalf("appending to a closed session should conflict, got %v", err)
	}
}

func TestListQueueOrdering(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()

	older := mustOpen(t, svc, "v-1")
	c.Advance(time.Minute)
	newer := mustOpen(t, svc, "v-2")
	c.Advance(time.Minute)
	closed := mustOpen(t, svc, "v-3")
	if _, err := svc.Close(ctx, closed.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Assign(ctx, older.SessionID, "op-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	queue, err := svc.ListQueue(ctx)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("expected 2 open sessions, got %d", len(queue))
	}
	if queue[0].SessionID != newer.SessionID || queue[1].SessionID != older.SessionID {
		t.Fatalf("unexpected order %s, %s", queue[0].SessionID, queue[1].SessionID)
	}

	c.Advance(time.Minute)
	mustSend(t, svc, older.SessionID, model.SenderVisitor, "ping")
	queue, _ = svc.ListQueue(ctx)
	if queue[0].SessionID != older.SessionID {
		t.Fatal("new activity should move the session to the top")
	}
}

func TestGetSessionByVisitor(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	none, err := svc.GetSessionByVisitor(ctx, "nobody")
	if err != nil || none != nil {
		t.Fatalf("expected nil, got %+v, %v", none, err)
	}

	session := mustOpen(t, svc, "v-1")
	got, err := svc.GetSessionByVisitor(ctx, "v-1")
	if err != nil || got == nil || got.SessionID != session.SessionID {
		t.Fatalf("expected %s, got %+v, %v", session.SessionID, got, err)
	}

	missing, err := svc.GetSession(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, got %+v, %v", missing, err)
	}
}

func TestRecentSession(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	c.Advance(2 * time.Hour)
	recent, err := svc.RecentSession(ctx, "v-1")
	if err != nil || recent == nil || recent.SessionID != session.SessionID {
		t.Fatalf("expected recent session, got %+v, %v", recent, err)
	}

	c.Advance(23 * time.Hour)
	recent, err = svc.RecentSession(ctx, "v-1")
	if err != nil || recent != nil {
		t.Fatalf("expected nil after the window, got %+v, %v", recent, err)
	}
}

func TestAppendMessageAssignsSequence(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	for i, text := range []string{"one", "two", "three"} {
		c.Advance(time.Second)
		message := mustSend(t, svc, session.SessionID, model.SenderVisitor, text)
		if message.Seq != int64(i+1) {
			t.Fatalf("message %q got seq %d", text, message.Seq)
		}
		if message.MessageID == "" || message.IsRead {
			t.Fatalf("unexpected message %+v", message)
		}
	}

	stored, _ := svc.GetSession(ctx, session.SessionID)
	if stored.LastMessageAt != model.FormatTime(c.Now()) {
		t.Fatalf("lastMessageAt not advanced: %s", stored.LastMessageAt)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	cases := []struct {
		name   string
		params AppendParams
		code   ErrorCode
	}{
		{"empty text", AppendParams{SessionID: session.SessionID, Sender: model.SenderVisitor}, ErrorCodeValidation},
		{"bad sender", AppendParams{SessionID: session.SessionID, Sender: "bot", Content: MessageContent{Text: "x"}}, ErrorCodeValidation},
		{"voice without url", AppendParams{SessionID: session.SessionID, Sender: model.SenderVisitor, Type: model.MessageTypeVoice}, ErrorCodeValidation},
		{"file without name", AppendParams{SessionID: session.SessionID, Sender: model.SenderVisitor, Type: model.MessageTypeFile, Content: MessageContent{FileURL: "https://cdn/x"}}, ErrorCodeValidation},
		{"unknown type", AppendParams{SessionID: session.SessionID, Sender: model.SenderVisitor, Type: "sticker", Content: MessageContent{Text: "x"}}, ErrorCodeValidation},
		{"missing session", AppendParams{SessionID: "missing", Sender: model.SenderVisitor, Content: MessageContent{Text: "x"}}, ErrorCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AppendMessage(ctx, tc.params)
			if !IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	voice, err := svc.AppendMessage(ctx, AppendParams{
		SessionID: session.SessionID,
		Sender:    model.SenderVisitor,
		Type:      model.MessageTypeVoice,
		Content:   MessageContent{Text: "ignored", VoiceURL: "https://cdn/a.ogg", Duration: 3.5},
	})
	if err != nil {
		t.Fatalf("voice message: %v", err)
	}
	if voice.Text != "" || voice.VoiceURL == "" || voice.Duration != 3.5 {
		t.Fatalf("voice payload not normalised: %+v", voice)
	}
}

func TestAppendMessageRejectsCloseAfterLoad(t *testing.T) {
	svc, repo, _ := newFixture()
	session := mustOpen(t, svc, "v-1")

	repo.afterLoad = func(loaded model.SessionItem) {
		repo.afterLoad = nil
		repo.mu.Lock()
		stored := repo.sessions[loaded.SessionID]
		stored.Status = model.SessionStatusClosed
		stored.Version++
		repo.sessions[loaded.SessionID] = stored
		repo.mu.Unlock()
	}

	_, err := svc.AppendMessage(context.Background(), AppendParams{
		SessionID: session.SessionID,
		Sender:    model.SenderVisitor,
		Content:   MessageContent{Text: "too late"},
	})
	if !IsCode(err, ErrorCodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := repo.messageCount(session.SessionID); got != 0 {
		t.Fatalf("closed session stored %d messages", got)
	}
}

func TestListMessagesOrderAndLimit(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")
	for _, text := range []string{"a", "b", "c", "d"} {
		c.Advance(time.Second)
		mustSend(t, svc, session.SessionID, model.SenderVisitor, text)
	}

	newest, err := svc.ListMessages(ctx, session.SessionID, 2, OrderNewestFirst)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(newest) != 2 || newest[0].Text != "d" || newest[1].Text != "c" {
		t.Fatalf("unexpected newest-first page %+v", newest)
	}

	oldest, err := svc.ListMessages(ctx, session.SessionID, 2, OrderOldestFirst)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(oldest) != 2 || oldest[0].Text != "c" || oldest[1].Text != "d" {
		t.Fatalf("oldest-first should return the latest page ascending, got %+v", oldest)
	}

	all, _ := svc.ListMessages(ctx, session.SessionID, 0, "")
	if len(all) != 4 || all[0].Text != "d" {
		t.Fatalf("default listing should be newest first, got %+v", all)
	}
}

func TestParseOrder(t *testing.T) {
	if o, ok := ParseOrder("ASC"); !ok || o != OrderOldestFirst {
		t.Fatalf("ParseOrder(ASC) = %s, %v", o, ok)
	}
	if o, ok := ParseOrder(""); !ok || o != OrderNewestFirst {
		t.Fatalf("ParseOrder(\"\") = %s, %v", o, ok)
	}
	if _, ok := ParseOrder("sideways"); ok {
		t.Fatal("expected invalid order")
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	mustSend(t, svc, session.SessionID, model.SenderVisitor, "hello")
	mustSend(t, svc, session.SessionID, model.SenderVisitor, "anyone?")
	mustSend(t, svc, session.SessionID, model.SenderAdmin, "hi")

	flipped, err := svc.MarkRead(ctx, session.SessionID, model.SenderAdmin)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if flipped != 2 {
		t.Fatalf("expected 2 visitor messages flipped, got %d", flipped)
	}

	again, err := svc.MarkRead(ctx, session.SessionID, model.SenderAdmin)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if again != 0 {
		t.Fatalf("second call should flip nothing, got %d", again)
	}

	messages, _ := svc.ListMessages(ctx, session.SessionID, 0, OrderOldestFirst)
	if messages[2].IsRead {
		t.Fatal("operator's own message must stay unread until the visitor reads it")
	}
	if messages[0].ReadAt == "" {
		t.Fatal("readAt should be set")
	}
}

func TestUnreadCountForOperator(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()

	owned := mustOpen(t, svc, "v-1")
	if _, err := svc.Assign(ctx, owned.SessionID, "op-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	mustSend(t, svc, owned.SessionID, model.SenderVisitor, "one")
	mustSend(t, svc, owned.SessionID, model.SenderAdmin, "reply")

	waiting := mustOpen(t, svc, "v-2")
	mustSend(t, svc, waiting.SessionID, model.SenderVisitor, "two")
	mustSend(t, svc, waiting.SessionID, model.SenderVisitor, "three")

	foreign := mustOpen(t, svc, "v-3")
	if _, err := svc.Assign(ctx, foreign.SessionID, "op-2"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	mustSend(t, svc, foreign.SessionID, model.SenderVisitor, "not mine")

	count, err := svc.UnreadCountForOperator(ctx, "op-1")
	if err != nil {
		t.Fatalf("UnreadCountForOperator: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	if _, err := svc.MarkRead(ctx, waiting.SessionID, model.SenderAdmin); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	count, _ = svc.UnreadCountForOperator(ctx, "op-1")
	if count != 1 {
		t.Fatalf("expected 1 unread after reading, got %d", count)
	}
}

func TestCleanupClosedSessionsScope(t *testing.T) {
	svc, repo, c := newFixture()
	ctx := context.Background()

	stale := mustOpen(t, svc, "v-1")
	mustSend(t, svc, stale.SessionID, model.SenderVisitor, "old")
	if _, err := svc.Close(ctx, stale.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c.Advance(29 * time.Hour)
	fresh := mustOpen(t, svc, "v-2")
	mustSend(t, svc, fresh.SessionID, model.SenderVisitor, "recent")
	if _, err := svc.Close(ctx, fresh.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	open := mustOpen(t, svc, "v-3")

	c.Advance(time.Hour)
	report, err := svc.CleanupClosedSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupClosedSessions: %v", err)
	}
	if report.Sessions != 1 || report.Messages != 1 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	if s, _ := svc.GetSession(ctx, stale.SessionID); s != nil {
		t.Fatal("session closed 30h ago should be deleted")
	}
	if repo.messageCount(stale.SessionID) != 0 {
		t.Fatal("messages of deleted session should be gone")
	}
	if s, _ := svc.GetSession(ctx, fresh.SessionID); s == nil {
		t.Fatal("session closed 1h ago must survive")
	}
	if s, _ := svc.GetSession(ctx, open.SessionID); s == nil {
		t.Fatal("open sessions must survive")
	}
}

func TestCleanupContinuesAfterFailure(t *testing.T) {
	svc, repo, c := newFixture()
	ctx := context.Background()

	broken := mustOpen(t, svc, "v-1")
	healthy := mustOpen(t, svc, "v-2")
	for _, s := range []model.SessionItem{broken, healthy} {
		if _, err := svc.Close(ctx, s.SessionID, "op-1"); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	repo.failDeleteOf[broken.SessionID] = errors.New("throttled")

	c.Advance(48 * time.Hour)
	report, err := svc.CleanupClosedSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupClosedSessions: %v", err)
	}
	if report.Sessions != 1 || len(report.Failed) != 1 || report.Failed[0] != broken.SessionID {
		t.Fatalf("unexpected report %+v", report)
	}
	if s, _ := svc.GetSession(ctx, healthy.SessionID); s != nil {
		t.Fatal("healthy session should still be swept")
	}
}

func TestCleanupResumesAfterMessageDeleteFailure(t *testing.T) {
	svc, repo, c := newFixture()
	ctx := context.Background()

	session := mustOpen(t, svc, "v-1")
	mustSend(t, svc, session.SessionID, model.SenderVisitor, "one")
	mustSend(t, svc, session.SessionID, model.SenderVisitor, "two")
	if _, err := svc.Close(ctx, session.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	repo.failMessageDeletes[session.SessionID] = 1

	c.Advance(48 * time.Hour)
	report, err := svc.CleanupClosedSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupClosedSessions: %v", err)
	}
	if report.Sessions != 0 || len(report.Failed) != 1 {
		t.Fatalf("unexpected first report %+v", report)
	}
	stored, _ := svc.GetSession(ctx, session.SessionID)
	if stored == nil || stored.Status != model.SessionStatusPurging {
		t.Fatalf("session should wait in purging, got %+v", stored)
	}
	if _, err := svc.AppendMessage(ctx, AppendParams{
		SessionID: session.SessionID,
		Sender:    model.SenderVisitor,
		Content:   MessageContent{Text: "late"},
	}); !IsCode(err, ErrorCodeConflict) {
		t.Fatalf("purging session must reject messages, got %v", err)
	}

	report, err = svc.CleanupClosedSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupClosedSessions: %v", err)
	}
	if report.Sessions != 1 || report.Messages != 2 || len(report.Failed) != 0 {
		t.Fatalf("unexpected second report %+v", report)
	}
	if repo.messageCount(session.SessionID) != 0 {
		t.Fatal("messages should be gone after the retry")
	}
	if s, _ := svc.GetSession(ctx, session.SessionID); s != nil {
		t.Fatal("session should be gone after the retry")
	}
}

func TestCleanupSkipsSessionReopenedAfterListing(t *testing.T) {
	repo := newMemoryRepository()
	c := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewWithRepository(repo, Options{
		RetentionWindow: time.Hour,
		Logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Now:             c.Now,
	})
	ctx := context.Background()

	session := mustOpen(t, svc, "v-1")
	mustSend(t, svc, session.SessionID, model.SenderVisitor, "hello")
	if _, err := svc.Close(ctx, session.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Advance(2 * time.Hour)

	repo.afterListClosed = func() {
		repo.afterListClosed = nil
		mustOpen(t, svc, "v-1")
	}
	report, err := svc.CleanupClosedSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupClosedSessions: %v", err)
	}
	if report.Skipped != 1 || report.Sessions != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	stored, _ := svc.GetSession(ctx, session.SessionID)
	if stored == nil || stored.Status != model.SessionStatusWaiting {
		t.Fatalf("reopened session must survive, got %+v", stored)
	}
	if repo.messageCount(session.SessionID) != 1 {
		t.Fatal("history of the reopened session must survive")
	}
}

func TestRateSession(t *testing.T) {
	svc, _, _ := newFixture()
	ctx := context.Background()
	session := mustOpen(t, svc, "v-1")

	if _, err := svc.RateSession(ctx, session.SessionID, "v-1", 5, "great"); !IsCode(err, ErrorCodeConflict) {
		t.Fatalf("rating an open session should conflict, got %v", err)
	}
	if _, err := svc.Close(ctx, session.SessionID, "op-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.RateSession(ctx, session.SessionID, "v-1", 6, ""); !IsCode(err, ErrorCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.RateSession(ctx, session.SessionID, "v-2", 4, ""); !IsCode(err, ErrorCodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	rated, err := svc.RateSession(ctx, session.SessionID, "v-1", 4, " quick answer ")
	if err != nil {
		t.Fatalf("RateSession: %v", err)
	}
	if rated.Satisfaction == nil || rated.Satisfaction.Rating != 4 || rated.Satisfaction.Feedback != "quick answer" {
		t.Fatalf("unexpected satisfaction %+v", rated.Satisfaction)
	}
	if rated.Status != model.SessionStatusClosed {
		t.Fatal("rating must not change the status")
	}
}

func TestEscalateStaleWaiting(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()

	stale := mustOpen(t, svc, "v-1")
	c.Advance(50 * time.Minute)
	fresh := mustOpen(t, svc, "v-2")
	c.Advance(20 * time.Minute)

	count, err := svc.EscalateStaleWaiting(ctx, time.Hour)
	if err != nil {
		t.Fatalf("EscalateStaleWaiting: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 escalation, got %d", count)
	}
	got, _ := svc.GetSession(ctx, stale.SessionID)
	if got.Priority != model.PriorityHigh || got.UpdatedAt != stale.UpdatedAt {
		t.Fatalf("unexpected escalated session %+v", got)
	}
	other, _ := svc.GetSession(ctx, fresh.SessionID)
	if other.Priority != model.PriorityMedium {
		t.Fatal("fresh session should keep its priority")
	}

	if count, _ := svc.EscalateStaleWaiting(ctx, 0); count != 0 {
		t.Fatal("zero threshold disables escalation")
	}
}

func TestEndToEndConversation(t *testing.T) {
	svc, _, c := newFixture()
	ctx := context.Background()

	session := mustOpen(t, svc, "visitor-v")
	mustSend(t, svc, session.SessionID, model.SenderVisitor, "hello")
	if session.Status != model.SessionStatusWaiting {
		t.Fatalf("expected waiting, got %s", session.Status)
	}

	c.Advance(time.Minute)
	assigned, err := svc.Assign(ctx, session.SessionID, "operator-o")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assigned.Status != model.SessionStatusActive {
		t.Fatalf("expected active, got %s", assigned.Status)
	}

	c.Advance(time.Minute)
	mustSend(t, svc, session.SessionID, model.SenderAdmin, "hi, how can I help?")

	history, _ := svc.ListMessages(ctx, session.SessionID, 0, OrderOldestFirst)
	if len(history) != 2 || history[0].Text != "hello" || history[1].Text != "hi, how can I help?" {
		t.Fatalf("unexpected history %+v", history)
	}

	closed, err := svc.Close(ctx, session.SessionID, "operator-o")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.ClosedAt == "" {
		t.Fatal("closedAt should be set")
	}

	c.Advance(2 * time.Hour)
	result, err := svc.FindOrCreateForVisitor(ctx, FindOrCreateParams{VisitorID: "visitor-v"})
	if err != nil {
		t.Fatalf("FindOrCreateForVisitor: %v", err)
	}
	if !result.Reopened || result.Session.SessionID != session.SessionID || result.Session.Status != model.SessionStatusWaiting {
		t.Fatalf("expected reopened waiting session, got %+v", result)
	}
	mustSend(t, svc, session.SessionID, model.SenderVisitor, "still there?")

	history, _ = svc.ListMessages(ctx, session.SessionID, 0, OrderOldestFirst)
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, message := range history {
		if message.Seq != int64(i+1) {
			t.Fatalf("message %d has seq %d", i, message.Seq)
		}
	}
	if history[2].Text != "still there?" {
		t.Fatalf("unexpected last message %q", history[2].Text)
	}
}
