package model

type SessionStatus string

const (
	SessionStatusWaiting SessionStatus = "waiting"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusClosed  SessionStatus = "closed"
	// SessionStatusPurging marks a closed session whose messages are being
	// deleted by retention cleanup. It never leaves this state.
	SessionStatusPurging SessionStatus = "purging"
)

func (s SessionStatus) Open() bool {
	return s == SessionStatusWaiting || s == SessionStatusActive
}

func (s SessionStatus) Ended() bool {
	return s == SessionStatusClosed || s == SessionStatusPurging
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type SenderRole string

const (
	SenderVisitor SenderRole = "visitor"
	SenderAdmin   SenderRole = "admin"
)

func (r SenderRole) Valid() bool {
	return r == SenderVisitor || r == SenderAdmin
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

type Satisfaction struct {
	Rating   int    `dynamodbav:"rating" json:"rating"`
	Feedback string `dynamodbav:"feedback,omitempty" json:"feedback,omitempty"`
	RatedAt  string `dynamodbav:"ratedAt" json:"ratedAt"`
}

type SessionItem struct {
	SessionID        string        `dynamodbav:"sessionId"`
	VisitorID        string        `dynamodbav:"visitorId"`
	VisitorName      string        `dynamodbav:"visitorName"`
	VisitorEmail     string        `dynamodbav:"visitorEmail,omitempty"`
	Status           SessionStatus `dynamodbav:"status"`
	AssignedOperator string        `dynamodbav:"assignedOperator,omitempty"`
	Priority         Priority      `dynamodbav:"priority"`
	LastMessageAt    string        `dynamodbav:"lastMessageAt"`
	ClosedAt         string        `dynamodbav:"closedAt,omitempty"`
	ClosedBy         string        `dynamodbav:"closedBy,omitempty"`
	Satisfaction     *Satisfaction `dynamodbav:"satisfaction,omitempty"`
	CreatedAt        string        `dynamodbav:"createdAt"`
	UpdatedAt        string        `dynamodbav:"updatedAt"`
	Version          int64         `dynamodbav:"version"`
	MessageSeq       int64         `dynamodbav:"messageSeq"`
}

// VisitorSessionAnchor points at the visitor's latest session. Revision
// changes whenever a session is created or reopened for the visitor.
type VisitorSessionAnchor struct {
	VisitorID string `dynamodbav:"visitorId"`
	SessionID string `dynamodbav:"sessionId"`
	Revision  int64  `dynamodbav:"revision"`
}

type SenderInfo struct {
	ID     string `dynamodbav:"id" json:"id"`
	Name   string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Avatar string `dynamodbav:"avatar,omitempty" json:"avatar,omitempty"`
}

type MessageItem struct {
	SessionID          string      `dynamodbav:"sessionId"`
	Seq                int64       `dynamodbav:"seq"`
	MessageID          string      `dynamodbav:"messageId"`
	Sender             SenderRole  `dynamodbav:"sender"`
	SenderInfo         SenderInfo  `dynamodbav:"senderInfo"`
	MessageType        MessageType `dynamodbav:"messageType"`
	Text               string      `dynamodbav:"text,omitempty"`
	VoiceURL           string      `dynamodbav:"voiceUrl,omitempty"`
	VoiceTranscription string      `dynamodbav:"voiceTranscription,omitempty"`
	Duration           float64     `dynamodbav:"duration,omitempty"`
	FileURL            string      `dynamodbav:"fileUrl,omitempty"`
	FileName           string      `dynamodbav:"fileName,omitempty"`
	FileSize           int64       `dynamodbav:"fileSize,omitempty"`
	IsRead             bool        `dynamodbav:"isRead"`
	ReadAt             string      `dynamodbav:"readAt,omitempty"`
	CreatedAt          string      `dynamodbav:"createdAt"`
}

type Location struct {
	Country string `dynamodbav:"country,omitempty" json:"country,omitempty"`
	City    string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	Region  string `dynamodbav:"region,omitempty" json:"region,omitempty"`
}

type PageView struct {
	Page      string `dynamodbav:"page" json:"page"`
	Timestamp string `dynamodbav:"timestamp" json:"timestamp"`
	TimeSpent int64  `dynamodbav:"timeSpent" json:"timeSpent"`
}

type VisitorItem struct {
	VisitorID    string     `dynamodbav:"visitorId"`
	SessionToken string     `dynamodbav:"sessionToken"`
	IPAddress    string     `dynamodbav:"ipAddress"`
	Device       string     `dynamodbav:"device,omitempty"`
	Browser      string     `dynamodbav:"browser,omitempty"`
	OS           string     `dynamodbav:"os,omitempty"`
	UserAgent    string     `dynamodbav:"userAgent,omitempty"`
	Location     *Location  `dynamodbav:"location,omitempty"`
	Referrer     string     `dynamodbav:"referrer,omitempty"`
	CurrentPage  string     `dynamodbav:"currentPage,omitempty"`
	PageViews    []PageView `dynamodbav:"pageViews"`
	VisitCount   int        `dynamodbav:"visitCount"`
	LastActivity string     `dynamodbav:"lastActivity"`
	IsActive     bool       `dynamodbav:"isActive"`
	CreatedAt    string     `dynamodbav:"createdAt"`
	Version      int64      `dynamodbav:"version"`
}

// VisitorTokenItem maps a session token to the one visitor holding it.
type VisitorTokenItem struct {
	SessionToken string `dynamodbav:"sessionToken"`
	VisitorID    string `dynamodbav:"visitorId"`
	CreatedAt    string `dynamodbav:"createdAt"`
}
