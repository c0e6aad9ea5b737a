package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/middleware"
	"support-chat-backend/internal/jwt"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/queue"
	"support-chat-backend/internal/service/conversation"
	"support-chat-backend/internal/service/visitor"

	"github.com/prometheus/client_golang/prometheus"
)

const testSecret = "endpoint-test-secret"

type listCall struct {
	sessionID string
	limit     int
	order     conversation.Order
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]model.SessionItem
	messages map[string][]model.MessageItem
	unread   map[string]int

	findResult conversation.SessionResult
	assignErr  error
	lastList   listCall
	lastRating int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]model.SessionItem),
		messages: make(map[string][]model.MessageItem),
		unread:   make(map[string]int),
	}
}

func (f *fakeSessions) FindOrCreateForVisitor(ctx context.Context, params conversation.FindOrCreateParams) (conversation.SessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := f.findResult
	result.Session.VisitorID = params.VisitorID
	return result, nil
}

func (f *fakeSessions) GetSession(ctx context.Context, sessionID string) (*model.SessionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (f *fakeSessions) GetSessionByVisitor(ctx context.Context, visitorID string) (*model.SessionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.VisitorID == visitorID {
			return &session, nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) RecentSession(ctx context.Context, visitorID string) (*model.SessionItem, error) {
	return f.GetSessionByVisitor(ctx, visitorID)
}

func (f *fakeSessions) ListMessages(ctx context.Context, sessionID string, limit int, order conversation.Order) ([]model.MessageItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = listCall{sessionID: sessionID, limit: limit, order: order}
	return f.messages[sessionID], nil
}

func (f *fakeSessions) RateSession(ctx context.Context, sessionID, visitorID string, rating int, feedback string) (model.SessionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, &conversation.Error{Code: conversation.ErrorCodeNotFound, Message: "session not found"}
	}
	if session.VisitorID != visitorID {
		return model.SessionItem{}, &conversation.Error{Code: conversation.ErrorCodeForbidden, Message: "session belongs to another visitor"}
	}
	f.lastRating = rating
	session.Satisfaction = &model.Satisfaction{Rating: rating, Feedback: feedback}
	f.sessions[sessionID] = session
	return session, nil
}

func (f *fakeSessions) ListQueue(ctx context.Context) ([]model.SessionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SessionItem
	for _, session := range f.sessions {
		if session.Status.Open() {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeSessions) Assign(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return model.SessionItem{}, f.assignErr
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, &conversation.Error{Code: conversation.ErrorCodeNotFound, Message: "session not found"}
	}
	session.Status = model.SessionStatusActive
	session.AssignedOperator = operatorID
	f.sessions[sessionID] = session
	return session, nil
}

func (f *fakeSessions) Close(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, &conversation.Error{Code: conversation.ErrorCodeNotFound, Message: "session not found"}
	}
	session.Status = model.SessionStatusClosed
	session.ClosedBy = operatorID
	f.sessions[sessionID] = session
	return session, nil
}

func (f *fakeSessions) UnreadCountForOperator(ctx context.Context, operatorID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[operatorID], nil
}

type fakeVisitors struct {
	mu         sync.Mutex
	visitors   map[string]model.VisitorItem
	byIP       map[string]string
	identified []visitor.IdentifyRequest
	lastWindow time.Duration
}

func newFakeVisitors() *fakeVisitors {
	return &fakeVisitors{
		visitors: make(map[string]model.VisitorItem),
		byIP:     make(map[string]string),
	}
}

func (f *fakeVisitors) add(v model.VisitorItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visitors[v.VisitorID] = v
	if v.IPAddress != "" {
		f.byIP[v.IPAddress] = v.VisitorID
	}
}

func (f *fakeVisitors) GetVisitor(ctx context.Context, visitorID string) (*model.VisitorItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.visitors[visitorID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeVisitors) FindByToken(ctx context.Context, sessionToken string) (*model.VisitorItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.visitors {
		if sessionToken != "" && v.SessionToken == sessionToken {
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeVisitors) LatestByIP(ctx context.Context, ip string) (*model.VisitorItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byIP[ip]
	if !ok {
		return nil, nil
	}
	v := f.visitors[id]
	return &v, nil
}

func (f *fakeVisitors) Identify(ctx context.Context, req visitor.IdentifyRequest) model.VisitorItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identified = append(f.identified, req)
	for _, v := range f.visitors {
		if req.SessionToken != "" && v.SessionToken == req.SessionToken {
			return v
		}
	}
	return model.VisitorItem{
		VisitorID:    "new-visitor",
		SessionToken: "fresh-token",
		IPAddress:    req.IPAddress,
		CurrentPage:  req.Page,
	}
}

func (f *fakeVisitors) RecordPageView(ctx context.Context, sessionToken, page string) *model.VisitorItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if page == "" {
		return nil
	}
	for id, v := range f.visitors {
		if sessionToken != "" && v.SessionToken == sessionToken {
			v.CurrentPage = page
			f.visitors[id] = v
			return &v
		}
	}
	return nil
}

func (f *fakeVisitors) ListActive(ctx context.Context, window time.Duration) ([]model.VisitorItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWindow = window
	out := make([]model.VisitorItem, 0, len(f.visitors))
	for _, v := range f.visitors {
		out = append(out, v)
	}
	return out, nil
}

type queueNotice struct {
	sessionID string
	reason    string
}

type fakeNotifier struct {
	mu       sync.Mutex
	queue    []queueNotice
	assigned []model.SenderInfo
	closed   []string
}

func (f *fakeNotifier) SessionAssigned(session model.SessionItem, operator model.SenderInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, operator)
}

func (f *fakeNotifier) SessionClosed(session model.SessionItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, session.SessionID)
}

func (f *fakeNotifier) QueueUpdated(session model.SessionItem, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, queueNotice{sessionID: session.SessionID, reason: reason})
}

type fakeSockets struct {
	mu        sync.Mutex
	sessions  []string
	operators int
}

func (f *fakeSockets) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (f *fakeSockets) ServeOperators(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.operators++
	f.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

type testEnv struct {
	handler  http.Handler
	sessions *fakeSessions
	visitors *fakeVisitors
	notifier *fakeNotifier
	sockets  *fakeSockets
	verifier *jwt.Verifier
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		sessions: newFakeSessions(),
		visitors: newFakeVisitors(),
		notifier: &fakeNotifier{},
		sockets:  &fakeSockets{},
		verifier: jwt.NewVerifier(testSecret),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queueManager := queue.NewRequestQueueManager(10, 2, logger)
	t.Cleanup(queueManager.Shutdown)

	server := api.NewAPIServer(":0", queueManager, api.Dependencies{}, api.Options{
		AllowedOrigins: []string{"*"},
		Logger:         logger,
		Registerer:     prometheus.NewRegistry(),
	})

	auth := middleware.OperatorAuth(env.verifier)
	public := NewSessionEndpoints(env.sessions, env.visitors, env.notifier, SessionPaths{PublicSessionPrefix: "/api/public/v1/sessions/"})
	client := NewSessionEndpoints(env.sessions, env.visitors, env.notifier, SessionPaths{ClientSessionPrefix: "/api/client/v1/sessions/"})
	visitors := NewVisitorEndpoints(env.visitors)
	sockets := NewWebsocketEndpoints(env.sockets, "/api/ws/v1/sessions/")
	utils := NewUtilsEndpoints()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/public/v1/health", server.MakeHTTPHandleFunc(utils.Health))
	mux.HandleFunc("/api/public/v1/visitors/track", server.MakeHTTPHandleFunc(visitors.Track))
	mux.HandleFunc("/api/public/v1/visitors/page", server.MakeHTTPHandleFunc(visitors.Page))
	mux.HandleFunc("/api/public/v1/sessions", server.MakeHTTPHandleFunc(public.PublicSessions))
	mux.HandleFunc("/api/public/v1/sessions/", server.MakeHTTPHandleFunc(public.PublicSessionResource))
	mux.HandleFunc("/api/client/v1/sessions", server.MakeHTTPHandleFunc(client.Queue, auth))
	mux.HandleFunc("/api/client/v1/sessions/", server.MakeHTTPHandleFunc(client.SessionResource, auth))
	mux.HandleFunc("/api/client/v1/visitors/active", server.MakeHTTPHandleFunc(visitors.Active, auth))
	mux.HandleFunc("/api/ws/v1/sessions/", server.MakeHTTPHandleFunc(sockets.Session))
	mux.HandleFunc("/api/ws/v1/operators", server.MakeHTTPHandleFunc(sockets.Operators))

	env.handler = mux
	return env
}

func (e *testEnv) bearer(t *testing.T, id, name string) map[string]string {
	t.Helper()
	token, err := e.verifier.CreateToken(jwt.Operator{ID: id, Name: name}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSONRequest[T any](t *testing.T, handler http.Handler, method, target string, body interface{}, headers map[string]string, expectedStatus int) T {
	t.Helper()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, rec.Code, rec.Body.String())
	}

	var result T
	if expectedStatus != http.StatusNoContent {
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}

	return result
}
