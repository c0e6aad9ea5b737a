package dto

import "support-chat-backend/internal/model"

func ToSessionResponse(item model.SessionItem) SessionResponse {
	resp := SessionResponse{
		SessionID:        item.SessionID,
		VisitorID:        item.VisitorID,
		VisitorName:      item.VisitorName,
		VisitorEmail:     item.VisitorEmail,
		Status:           string(item.Status),
		AssignedOperator: item.AssignedOperator,
		Priority:         string(item.Priority),
		LastMessageAt:    item.LastMessageAt,
		ClosedAt:         item.ClosedAt,
		ClosedBy:         item.ClosedBy,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}
	if item.Satisfaction != nil {
		resp.Satisfaction = &SatisfactionResponse{
			Rating:   item.Satisfaction.Rating,
			Feedback: item.Satisfaction.Feedback,
			RatedAt:  item.Satisfaction.RatedAt,
		}
	}
	return resp
}

// ToSessionPointer maps a nullable session.
func ToSessionPointer(item *model.SessionItem) *SessionResponse {
	if item == nil {
		return nil
	}
	resp := ToSessionResponse(*item)
	return &resp
}

func ToSessionList(items []model.SessionItem) []SessionResponse {
	out := make([]SessionResponse, len(items))
	for i, item := range items {
		out[i] = ToSessionResponse(item)
	}
	return out
}

func ToMessageResponse(item model.MessageItem) MessageResponse {
	return MessageResponse{
		MessageID: item.MessageID,
		SessionID: item.SessionID,
		Seq:       item.Seq,
		Sender:    string(item.Sender),
		SenderInfo: SenderResponse{
			ID:     item.SenderInfo.ID,
			Name:   item.SenderInfo.Name,
			Avatar: item.SenderInfo.Avatar,
		},
		MessageType:        string(item.MessageType),
		Text:               item.Text,
		VoiceURL:           item.VoiceURL,
		VoiceTranscription: item.VoiceTranscription,
		Duration:           item.Duration,
		FileURL:            item.FileURL,
		FileName:           item.FileName,
		FileSize:           item.FileSize,
		IsRead:             item.IsRead,
		ReadAt:             item.ReadAt,
		CreatedAt:          item.CreatedAt,
	}
}

func ToMessageList(items []model.MessageItem) []MessageResponse {
	out := make([]MessageResponse, len(items))
	for i, item := range items {
		out[i] = ToMessageResponse(item)
	}
	return out
}

func ToVisitorResponse(item model.VisitorItem) VisitorResponse {
	resp := VisitorResponse{
		VisitorID:    item.VisitorID,
		SessionToken: item.SessionToken,
		IPAddress:    item.IPAddress,
		Device:       item.Device,
		Browser:      item.Browser,
		OS:           item.OS,
		Referrer:     item.Referrer,
		CurrentPage:  item.CurrentPage,
		PageViews:    make([]PageViewResponse, len(item.PageViews)),
		VisitCount:   item.VisitCount,
		LastActivity: item.LastActivity,
		IsActive:     item.IsActive,
		CreatedAt:    item.CreatedAt,
	}
	if item.Location != nil {
		resp.Location = &LocationResponse{
			Country: item.Location.Country,
			City:    item.Location.City,
			Region:  item.Location.Region,
		}
	}
	for i, view := range item.PageViews {
		resp.PageViews[i] = PageViewResponse{
			Page:      view.Page,
			Timestamp: view.Timestamp,
			TimeSpent: view.TimeSpent,
		}
	}
	return resp
}

func ToVisitorPointer(item *model.VisitorItem) *VisitorResponse {
	if item == nil {
		return nil
	}
	resp := ToVisitorResponse(*item)
	return &resp
}

func ToVisitorList(items []model.VisitorItem) []VisitorResponse {
	out := make([]VisitorResponse, len(items))
	for i, item := range items {
		out[i] = ToVisitorResponse(item)
	}
	return out
}
