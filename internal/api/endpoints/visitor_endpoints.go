package endpoints

import (
	"context"
	"net/http"
	"strings"
	"time"

	"support-chat-backend/internal/dto"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/service/visitor"
	"support-chat-backend/utils"
)

// VisitorLookup resolves visitors without changing them.
type VisitorLookup interface {
	GetVisitor(ctx context.Context, visitorID string) (*model.VisitorItem, error)
	FindByToken(ctx context.Context, sessionToken string) (*model.VisitorItem, error)
	LatestByIP(ctx context.Context, ip string) (*model.VisitorItem, error)
}

type VisitorService interface {
	VisitorLookup
	Identify(ctx context.Context, req visitor.IdentifyRequest) model.VisitorItem
	RecordPageView(ctx context.Context, sessionToken, page string) *model.VisitorItem
	ListActive(ctx context.Context, window time.Duration) ([]model.VisitorItem, error)
}

type VisitorEndpoints interface {
	Track(http.ResponseWriter, *http.Request) error
	Page(http.ResponseWriter, *http.Request) error
	Active(http.ResponseWriter, *http.Request) error
}

type visitorEndpoints struct {
	service VisitorService
}

func NewVisitorEndpoints(service VisitorService) VisitorEndpoints {
	return &visitorEndpoints{service: service}
}

func (h *visitorEndpoints) Track(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleTrack,
	})
}

func (h *visitorEndpoints) Page(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handlePage,
	})
}

func (h *visitorEndpoints) Active(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleActive,
	})
}

// handleTrack never fails on store trouble: the visitor service hands back
// an unpersisted visitor instead.
func (h *visitorEndpoints) handleTrack(w http.ResponseWriter, r *http.Request) error {
	var req dto.TrackVisitorRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	v := h.service.Identify(r.Context(), visitor.IdentifyRequest{
		SessionToken: r.Header.Get("X-Session-Token"),
		IPAddress:    utils.RealClientIP(r),
		UserAgent:    r.UserAgent(),
		Referrer:     r.Referer(),
		Page:         req.Page,
	})

	w.Header().Set("X-Session-Token", v.SessionToken)
	return WriteJSON(w, http.StatusOK, dto.TrackVisitorResponse{
		Visitor:      dto.ToVisitorResponse(v),
		SessionToken: v.SessionToken,
	})
}

func (h *visitorEndpoints) handlePage(w http.ResponseWriter, r *http.Request) error {
	var req dto.UpdatePageRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.SessionToken) == "" {
		req.SessionToken = r.Header.Get("X-Session-Token")
	}

	// An unknown token or empty page yields a null visitor, never an error.
	v := h.service.RecordPageView(r.Context(), req.SessionToken, req.Page)
	return WriteJSON(w, http.StatusOK, dto.VisitorEnvelope{Visitor: dto.ToVisitorPointer(v)})
}

func (h *visitorEndpoints) handleActive(w http.ResponseWriter, r *http.Request) error {
	minutes, _, err := queryInt(r, "minutes")
	if err != nil {
		return err
	}

	visitors, err := h.service.ListActive(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ListVisitorsResponse{Visitors: dto.ToVisitorList(visitors)})
}
