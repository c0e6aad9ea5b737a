package dto

type LocationResponse struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
}

type PageViewResponse struct {
	Page      string `json:"page"`
	Timestamp string `json:"timestamp"`
	TimeSpent int64  `json:"timeSpent"`
}

type VisitorResponse struct {
	VisitorID    string             `json:"visitorId"`
	SessionToken string             `json:"sessionToken"`
	IPAddress    string             `json:"ipAddress,omitempty"`
	Device       string             `json:"device"`
	Browser      string             `json:"browser"`
	OS           string             `json:"os"`
	Location     *LocationResponse  `json:"location,omitempty"`
	Referrer     string             `json:"referrer,omitempty"`
	CurrentPage  string             `json:"currentPage,omitempty"`
	PageViews    []PageViewResponse `json:"pageViews"`
	VisitCount   int                `json:"visitCount"`
	LastActivity string             `json:"lastActivity"`
	IsActive     bool               `json:"isActive"`
	CreatedAt    string             `json:"createdAt"`
}

type TrackVisitorRequest struct {
	Page string `json:"page,omitempty"`
}

type TrackVisitorResponse struct {
	Visitor      VisitorResponse `json:"visitor"`
	SessionToken string          `json:"sessionToken"`
}

type UpdatePageRequest struct {
	SessionToken string `json:"sessionToken"`
	Page         string `json:"page"`
}

// VisitorEnvelope wraps a nullable visitor so absent results encode as null.
type VisitorEnvelope struct {
	Visitor *VisitorResponse `json:"visitor"`
}

type ListVisitorsResponse struct {
	Visitors []VisitorResponse `json:"visitors"`
}
