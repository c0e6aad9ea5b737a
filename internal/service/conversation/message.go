package conversation

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"support-chat-backend/internal/events"
	"support-chat-backend/internal/model"

	"github.com/google/uuid"
)

const (
	maxTextLength       = 5000
	DefaultMessageLimit = 100
	MaxMessageLimit     = 1000
)

type Order string

const (
	OrderNewestFirst Order = "desc"
	OrderOldestFirst Order = "asc"
)

func ParseOrder(raw string) (Order, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "desc", "newest":
		return OrderNewestFirst, true
	case "asc", "oldest":
		return OrderOldestFirst, true
	}
	return "", false
}

// MessageContent is the payload union; which fields apply depends on the
// message type.
type MessageContent struct {
	Text               string
	VoiceURL           string
	VoiceTranscription string
	Duration           float64
	FileURL            string
	FileName           string
	FileSize           int64
}

type AppendParams struct {
	SessionID  string
	Sender     model.SenderRole
	SenderInfo model.SenderInfo
	Type       model.MessageType
	Content    MessageContent
}

// AppendMessage persists a message with the next per-session sequence number
// and then advances the session's lastMessageAt. Only open sessions accept
// messages.
func (s *Service) AppendMessage(ctx context.Context, params AppendParams) (model.MessageItem, error) {
	if !params.Sender.Valid() {
		return model.MessageItem{}, newError(ErrorCodeValidation, "sender must be visitor or admin", nil)
	}
	if params.Type == "" {
		params.Type = model.MessageTypeText
	}
	if err := validateContent(params.Type, &params.Content); err != nil {
		return model.MessageItem{}, err
	}

	session, err := s.loadSession(ctx, params.SessionID)
	if err != nil {
		return model.MessageItem{}, err
	}
	if !session.Status.Open() {
		return model.MessageItem{}, newError(ErrorCodeConflict, "session is closed", nil)
	}

	// The allocation is the status-guarded step; a close that lands after the
	// read above is caught here.
	seq, err := s.repo.AllocateSeq(ctx, session.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return model.MessageItem{}, newError(ErrorCodeNotFound, "session not found", err)
		case errors.Is(err, ErrConflict):
			return model.MessageItem{}, newError(ErrorCodeConflict, "session is closed", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to allocate message sequence", err)
	}

	now := model.FormatTime(s.now())
	message := model.MessageItem{
		SessionID:          session.SessionID,
		Seq:                seq,
		MessageID:          uuid.NewString(),
		Sender:             params.Sender,
		SenderInfo:         params.SenderInfo,
		MessageType:        params.Type,
		Text:               params.Content.Text,
		VoiceURL:           params.Content.VoiceURL,
		VoiceTranscription: params.Content.VoiceTranscription,
		Duration:           params.Content.Duration,
		FileURL:            params.Content.FileURL,
		FileName:           params.Content.FileName,
		FileSize:           params.Content.FileSize,
		CreatedAt:          now,
	}

	if err := s.repo.PutMessage(ctx, message); err != nil {
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	if err := s.repo.TouchSession(ctx, session.SessionID, now); err != nil {
		s.logger.Error("conversation: touch session failed", "sessionId", session.SessionID, "error", err)
	}

	s.events.Publish(ctx, events.Event{
		Type:       events.MessageCreated,
		SessionID:  session.SessionID,
		VisitorID:  session.VisitorID,
		Attributes: map[string]string{"sender": string(message.Sender), "messageType": string(message.MessageType)},
		OccurredAt: s.now().UTC(),
	})
	return message, nil
}

// ListMessages returns the most recent limit messages of the session in the
// requested order.
func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int, order Order) ([]model.MessageItem, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorCodeValidation, "sessionId is required", nil)
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	if order == "" {
		order = OrderNewestFirst
	}

	messages, err := s.repo.ListMessages(ctx, sessionID, limit, true)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list messages", err)
	}
	if order == OrderOldestFirst {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

// MarkRead flips every unread message not authored by reader. It returns the
// number of messages flipped; calling it again returns zero.
func (s *Service) MarkRead(ctx context.Context, sessionID string, reader model.SenderRole) (int, error) {
	if !reader.Valid() {
		return 0, newError(ErrorCodeValidation, "reader must be visitor or admin", nil)
	}
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	unread, err := s.repo.ListUnread(ctx, session.SessionID, otherRole(reader))
	if err != nil {
		return 0, newError(ErrorCodeInternal, "failed to list unread messages", err)
	}

	readAt := model.FormatTime(s.now())
	flipped := 0
	for _, message := range unread {
		ok, err := s.repo.MarkMessageRead(ctx, session.SessionID, message.Seq, readAt)
		if err != nil {
			return flipped, newError(ErrorCodeInternal, "failed to mark message read", err)
		}
		if ok {
			flipped++
		}
	}
	return flipped, nil
}

func otherRole(role model.SenderRole) model.SenderRole {
	if role == model.SenderVisitor {
		return model.SenderAdmin
	}
	return model.SenderVisitor
}

func validateContent(typ model.MessageType, content *MessageContent) error {
	content.Text = strings.TrimSpace(content.Text)
	content.VoiceURL = strings.TrimSpace(content.VoiceURL)
	content.FileURL = strings.TrimSpace(content.FileURL)
	content.FileName = strings.TrimSpace(content.FileName)

	switch typ {
	case model.MessageTypeText, model.MessageTypeSystem:
		if content.Text == "" {
			return newError(ErrorCodeValidation, "message text is required", nil)
		}
		if utf8.RuneCountInString(content.Text) > maxTextLength {
			return newError(ErrorCodeValidation, "message text is too long", nil)
		}
		*content = MessageContent{Text: content.Text}
	case model.MessageTypeVoice:
		if content.VoiceURL == "" {
			return newError(ErrorCodeValidation, "voiceUrl is required", nil)
		}
		if content.Duration < 0 {
			return newError(ErrorCodeValidation, "duration must not be negative", nil)
		}
		*content = MessageContent{
			VoiceURL:           content.VoiceURL,
			VoiceTranscription: strings.TrimSpace(content.VoiceTranscription),
			Duration:           content.Duration,
		}
	case model.MessageTypeFile:
		if content.FileURL == "" || content.FileName == "" {
			return newError(ErrorCodeValidation, "fileUrl and fileName are required", nil)
		}
		if content.FileSize < 0 {
			return newError(ErrorCodeValidation, "fileSize must not be negative", nil)
		}
		*content = MessageContent{
			FileURL:  content.FileURL,
			FileName: content.FileName,
			FileSize: content.FileSize,
		}
	default:
		return newError(ErrorCodeValidation, "unsupported message type", nil)
	}
	return nil
}
