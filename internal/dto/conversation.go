package dto

type SessionResponse struct {
	SessionID        string                `json:"sessionId"`
	VisitorID        string                `json:"visitorId"`
	VisitorName      string                `json:"visitorName"`
	VisitorEmail     string                `json:"visitorEmail,omitempty"`
	Status           string                `json:"status"`
	AssignedOperator string                `json:"assignedOperator,omitempty"`
	Priority         string                `json:"priority"`
	LastMessageAt    string                `json:"lastMessageAt"`
	ClosedAt         string                `json:"closedAt,omitempty"`
	ClosedBy         string                `json:"closedBy,omitempty"`
	Satisfaction     *SatisfactionResponse `json:"satisfaction,omitempty"`
	CreatedAt        string                `json:"createdAt"`
	UpdatedAt        string                `json:"updatedAt"`
}

type SatisfactionResponse struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
	RatedAt  string `json:"ratedAt"`
}

type SenderResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type MessageResponse struct {
	MessageID          string         `json:"messageId"`
	SessionID          string         `json:"sessionId"`
	Seq                int64          `json:"seq"`
	Sender             string         `json:"sender"`
	SenderInfo         SenderResponse `json:"senderInfo"`
	MessageType        string         `json:"messageType"`
	Text               string         `json:"text,omitempty"`
	VoiceURL           string         `json:"voiceUrl,omitempty"`
	VoiceTranscription string         `json:"voiceTranscription,omitempty"`
	Duration           float64        `json:"duration,omitempty"`
	FileURL            string         `json:"fileUrl,omitempty"`
	FileName           string         `json:"fileName,omitempty"`
	FileSize           int64          `json:"fileSize,omitempty"`
	IsRead             bool           `json:"isRead"`
	ReadAt             string         `json:"readAt,omitempty"`
	CreatedAt          string         `json:"createdAt"`
}

type CreateSessionRequest struct {
	VisitorID    string `json:"visitorId"`
	VisitorName  string `json:"visitorName,omitempty"`
	VisitorEmail string `json:"visitorEmail,omitempty"`
}

type CreateSessionResponse struct {
	Session  SessionResponse `json:"session"`
	Created  bool            `json:"created"`
	Reopened bool            `json:"reopened"`
}

// SessionEnvelope wraps a nullable session so absent results encode as null.
type SessionEnvelope struct {
	Session *SessionResponse `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

type AssignSessionRequest struct {
	OperatorID string `json:"operatorId,omitempty"`
}

type RateSessionRequest struct {
	VisitorID string `json:"visitorId"`
	Rating    int    `json:"rating"`
	Feedback  string `json:"feedback,omitempty"`
}

type RecentSessionResponse struct {
	HasRecentSession bool             `json:"hasRecentSession"`
	Session          *SessionResponse `json:"session,omitempty"`
}

type UnreadCountResponse struct {
	OperatorID  string `json:"operatorId"`
	UnreadCount int    `json:"unreadCount"`
}

// SendMessagePayload is the data of a send-message websocket event.
type SendMessagePayload struct {
	MessageType        string  `json:"messageType,omitempty"`
	Text               string  `json:"text,omitempty"`
	VoiceURL           string  `json:"voiceUrl,omitempty"`
	VoiceTranscription string  `json:"voiceTranscription,omitempty"`
	Duration           float64 `json:"duration,omitempty"`
	FileURL            string  `json:"fileUrl,omitempty"`
	FileName           string  `json:"fileName,omitempty"`
	FileSize           int64   `json:"fileSize,omitempty"`
}
