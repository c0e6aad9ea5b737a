package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"support-chat-backend/internal/model"
)

// Locator resolves an IP address to a coarse location.
type Locator interface {
	Locate(ctx context.Context, ip string) (*model.Location, error)
}

// HTTPLocator queries an ip-api compatible endpoint. The URL may contain a
// single %s which is replaced by the IP; otherwise the IP is appended.
type HTTPLocator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLocator(baseURL string, timeout time.Duration) *HTTPLocator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPLocator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type lookupResponse struct {
	Status     string `json:"status"`
	Country    string `json:"country"`
	City       string `json:"city"`
	RegionName string `json:"regionName"`
	Region     string `json:"region"`
}

func (l *HTTPLocator) Locate(ctx context.Context, ip string) (*model.Location, error) {
	if isPrivate(ip) {
		return nil, nil
	}

	url := l.baseURL
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, ip)
	} else {
		url = strings.TrimRight(url, "/") + "/" + ip
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("geo: build request: %w", err)
	}

	res, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo: lookup %s: %w", ip, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo: lookup %s: status %d", ip, res.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geo: decode: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("geo: lookup %s: status %q", ip, body.Status)
	}

	region := body.RegionName
	if region == "" {
		region = body.Region
	}
	return &model.Location{
		Country: body.Country,
		City:    body.City,
		Region:  region,
	}, nil
}

// NoopLocator never resolves a location.
type NoopLocator struct{}

func (NoopLocator) Locate(context.Context, string) (*model.Location, error) {
	return nil, nil
}

func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast()
}
