package visitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/events"
	"support-chat-backend/internal/geo"
	"support-chat-backend/internal/model"
	"support-chat-backend/utils"

	"github.com/google/uuid"
)

const (
	DefaultIPWindow     = 24 * time.Hour
	DefaultActiveWindow = 30 * time.Minute
	maxPageViews        = 50
	geoTimeout          = 2 * time.Second
	saveAttempts        = 3
)

type Options struct {
	IPWindow     time.Duration
	ActiveWindow time.Duration
	Locator      geo.Locator
	Events       events.Publisher
	Logger       *slog.Logger
	Now          func() time.Time
}

// IdentifyRequest carries what a tracking request reveals about the browser.
type IdentifyRequest struct {
	SessionToken string
	IPAddress    string
	UserAgent    string
	Referrer     string
	Page         string
}

type Service struct {
	repo         Repository
	locator      geo.Locator
	events       events.Publisher
	logger       *slog.Logger
	now          func() time.Time
	ipWindow     time.Duration
	activeWindow time.Duration
	locks        *utils.KeyLock
}

func New(db *database.Database, opts Options) *Service {
	return NewWithRepository(NewDynamoRepository(db), opts)
}

func NewWithRepository(repo Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IPWindow <= 0 {
		opts.IPWindow = DefaultIPWindow
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = DefaultActiveWindow
	}
	if opts.Locator == nil {
		opts.Locator = geo.NoopLocator{}
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		locator:      opts.Locator,
		events:       opts.Events,
		logger:       opts.Logger,
		now:          opts.Now,
		ipWindow:     opts.IPWindow,
		activeWindow: opts.ActiveWindow,
		locks:        utils.NewKeyLock(),
	}
}

// Identify resolves the request to a visitor. Resolution order: a known
// session token, then a visitor created from the same IP within the IP
// window (only when the request has no token), then a new visitor.
// Identify never fails; when the store is unavailable an unpersisted
// visitor is returned.
func (s *Service) Identify(ctx context.Context, req IdentifyRequest) model.VisitorItem {
	req.SessionToken = strings.TrimSpace(req.SessionToken)
	req.IPAddress = strings.TrimSpace(req.IPAddress)
	req.Page = strings.TrimSpace(req.Page)

	lockKey := "token:" + req.SessionToken
	if req.SessionToken == "" {
		lockKey = "ip:" + req.IPAddress
	}
	unlock := s.locks.Lock(lockKey)
	defer unlock()

	now := s.now().UTC()

	if req.SessionToken != "" {
		existing, err := s.repo.FindByToken(ctx, req.SessionToken)
		switch {
		case err == nil:
			return s.touch(ctx, existing, req, now)
		case !errors.Is(err, ErrNotFound):
			s.logger.Error("visitor: lookup by token failed", "error", err)
			return s.newVisitor(req, now)
		}
	} else if req.IPAddress != "" {
		since := model.FormatTime(now.Add(-s.ipWindow))
		existing, err := s.repo.FindLatestByIP(ctx, req.IPAddress, since)
		switch {
		case err == nil:
			return s.touch(ctx, existing, req, now)
		case !errors.Is(err, ErrNotFound):
			s.logger.Error("visitor: lookup by ip failed", "error", err)
			return s.newVisitor(req, now)
		}
	}

	visitor := s.newVisitor(req, now)
	s.locate(ctx, &visitor)

	if err := s.repo.CreateVisitor(ctx, visitor); err != nil {
		if errors.Is(err, ErrConflict) && req.SessionToken != "" {
			// Another instance claimed the token first.
			if existing, err := s.repo.FindByToken(ctx, req.SessionToken); err == nil {
				return s.touch(ctx, existing, req, now)
			}
		}
		s.logger.Error("visitor: create failed", "visitorId", visitor.VisitorID, "error", err)
		return visitor
	}

	s.events.Publish(ctx, events.Event{
		Type:       events.VisitorIdentified,
		VisitorID:  visitor.VisitorID,
		Attributes: map[string]string{"device": visitor.Device, "referrer": visitor.Referrer},
		OccurredAt: now,
	})
	return visitor
}

// RecordPageView appends page to the visitor's trail. It returns nil when no
// visitor holds the token; store failures are logged, not returned.
func (s *Service) RecordPageView(ctx context.Context, sessionToken, page string) *model.VisitorItem {
	sessionToken = strings.TrimSpace(sessionToken)
	page = strings.TrimSpace(page)
	if sessionToken == "" || page == "" {
		return nil
	}

	unlock := s.locks.Lock("token:" + sessionToken)
	defer unlock()

	visitor, err := s.repo.FindByToken(ctx, sessionToken)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("visitor: page view lookup failed", "error", err)
		}
		return nil
	}

	now := s.now().UTC()
	visitor = s.save(ctx, visitor, func(v *model.VisitorItem) {
		appendPageView(v, page, now)
		v.LastActivity = model.FormatTime(now)
		v.IsActive = true
	})
	return &visitor
}

// ListActive returns visitors active within window, most recent first.
// A non-positive window uses the configured default.
func (s *Service) ListActive(ctx context.Context, window time.Duration) ([]model.VisitorItem, error) {
	if window <= 0 {
		window = s.activeWindow
	}
	since := model.FormatTime(s.now().Add(-window))

	visitors, err := s.repo.ListActiveSince(ctx, since)
	if err != nil {
		return nil, err
	}
	sort.Slice(visitors, func(i, j int) bool {
		return visitors[i].LastActivity > visitors[j].LastActivity
	})
	return visitors, nil
}

// GetVisitor returns nil when the visitor does not exist.
func (s *Service) GetVisitor(ctx context.Context, visitorID string) (*model.VisitorItem, error) {
	visitor, err := s.repo.GetVisitor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &visitor, nil
}

// LatestByIP returns the newest visitor created from ip within the IP window,
// or nil.
func (s *Service) LatestByIP(ctx context.Context, ip string) (*model.VisitorItem, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, nil
	}
	since := model.FormatTime(s.now().Add(-s.ipWindow))
	visitor, err := s.repo.FindLatestByIP(ctx, ip, since)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &visitor, nil
}

// FindByToken returns nil when no visitor holds sessionToken.
func (s *Service) FindByToken(ctx context.Context, sessionToken string) (*model.VisitorItem, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return nil, nil
	}
	visitor, err := s.repo.FindByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &visitor, nil
}

func (s *Service) touch(ctx context.Context, visitor model.VisitorItem, req IdentifyRequest, now time.Time) model.VisitorItem {
	return s.save(ctx, visitor, func(v *model.VisitorItem) {
		if now.Sub(model.ParseTime(v.LastActivity)) >= s.activeWindow {
			v.VisitCount++
		}
		v.LastActivity = model.FormatTime(now)
		v.IsActive = true
		if req.IPAddress != "" {
			v.IPAddress = req.IPAddress
		}
		if req.Page != "" {
			appendPageView(v, req.Page, now)
		}
	})
}

// save applies mutate to visitor and stores the result under a version
// check. When another writer got there first the visitor is reloaded and
// mutate applied again. Failures are logged; the mutated visitor is
// returned either way.
func (s *Service) save(ctx context.Context, visitor model.VisitorItem, mutate func(*model.VisitorItem)) model.VisitorItem {
	var next model.VisitorItem
	for attempt := 0; attempt < saveAttempts; attempt++ {
		next = visitor
		next.PageViews = append([]model.PageView(nil), visitor.PageViews...)
		mutate(&next)

		err := s.repo.SaveVisitor(ctx, next, visitor.Version)
		if err == nil {
			next.Version = visitor.Version + 1
			return next
		}
		if !errors.Is(err, ErrConflict) {
			s.logger.Error("visitor: save failed", "visitorId", visitor.VisitorID, "error", err)
			return next
		}

		fresh, err := s.repo.GetVisitor(ctx, visitor.VisitorID)
		if err != nil {
			s.logger.Error("visitor: reload failed", "visitorId", visitor.VisitorID, "error", err)
			return next
		}
		visitor = fresh
	}

	s.logger.Warn("visitor: save gave up after concurrent updates", "visitorId", visitor.VisitorID)
	return next
}

func (s *Service) newVisitor(req IdentifyRequest, now time.Time) model.VisitorItem {
	token := req.SessionToken
	if token == "" {
		token = utils.CreateToken()
	}
	device := parseUserAgent(req.UserAgent)
	nowStr := model.FormatTime(now)

	visitor := model.VisitorItem{
		VisitorID:    uuid.NewString(),
		SessionToken: token,
		IPAddress:    req.IPAddress,
		Device:       device.Device,
		Browser:      device.Browser,
		OS:           device.OS,
		UserAgent:    req.UserAgent,
		Referrer:     strings.TrimSpace(req.Referrer),
		PageViews:    []model.PageView{},
		VisitCount:   1,
		LastActivity: nowStr,
		IsActive:     true,
		CreatedAt:    nowStr,
	}
	if req.Page != "" {
		appendPageView(&visitor, req.Page, now)
	}
	return visitor
}

func (s *Service) locate(ctx context.Context, visitor *model.VisitorItem) {
	if visitor.IPAddress == "" {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, geoTimeout)
	defer cancel()

	loc, err := s.locator.Locate(lookupCtx, visitor.IPAddress)
	if err != nil {
		s.logger.Warn("visitor: geo lookup failed", "error", err)
		return
	}
	visitor.Location = loc
}

func appendPageView(visitor *model.VisitorItem, page string, now time.Time) {
	if n := len(visitor.PageViews); n > 0 {
		prev := &visitor.PageViews[n-1]
		if started := model.ParseTime(prev.Timestamp); !started.IsZero() && now.After(started) {
			prev.TimeSpent = int64(now.Sub(started).Seconds())
		}
	}
	visitor.PageViews = append(visitor.PageViews, model.PageView{
		Page:      page,
		Timestamp: model.FormatTime(now),
	})
	if len(visitor.PageViews) > maxPageViews {
		visitor.PageViews = visitor.PageViews[len(visitor.PageViews)-maxPageViews:]
	}
	visitor.CurrentPage = page
}
