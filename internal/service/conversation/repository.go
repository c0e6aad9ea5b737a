package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("conversation repository: not found")
	// ErrConflict reports a failed compare-and-swap.
	ErrConflict = errors.New("conversation repository: version conflict")
)

type Repository interface {
	// GetVisitorAnchor reads the visitor's latest-session pointer with a
	// strongly consistent read.
	GetVisitorAnchor(ctx context.Context, visitorID string) (model.VisitorSessionAnchor, error)
	// CreateSession stores session and points the visitor anchor at it in one
	// transaction, provided the anchor still has anchorRevision (zero when
	// the visitor has none).
	CreateSession(ctx context.Context, session model.SessionItem, anchorRevision int64) error
	// ReopenSession is UpdateSessionState guarded by the visitor anchor
	// revision, which it bumps.
	ReopenSession(ctx context.Context, session model.SessionItem, expectedVersion, anchorRevision int64) (model.SessionItem, error)
	GetSession(ctx context.Context, sessionID string) (model.SessionItem, error)
	// UpdateSessionState writes the lifecycle fields of session if the stored
	// version still equals expectedVersion, and bumps the version.
	UpdateSessionState(ctx context.Context, session model.SessionItem, expectedVersion int64) (model.SessionItem, error)
	ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.SessionItem, error)
	ListSessionsByOperator(ctx context.Context, operatorID string) ([]model.SessionItem, error)
	ListClosedBefore(ctx context.Context, cutoff string) ([]model.SessionItem, error)
	// ClaimForPurge moves a session that is still closed and last updated
	// before cutoff to purging, bumping its version.
	ClaimForPurge(ctx context.Context, sessionID, cutoff string) error
	// DeletePurgingSession removes a session in purging state.
	DeletePurgingSession(ctx context.Context, sessionID string) error

	// AllocateSeq returns the next message sequence of an open session and
	// ErrConflict when the session is not open.
	AllocateSeq(ctx context.Context, sessionID string) (int64, error)
	TouchSession(ctx context.Context, sessionID, at string) error
	PutMessage(ctx context.Context, message model.MessageItem) error
	// ListMessages returns up to limit messages, newest first when
	// newestFirst is set, oldest first otherwise. A zero limit means all.
	ListMessages(ctx context.Context, sessionID string, limit int, newestFirst bool) ([]model.MessageItem, error)
	ListUnread(ctx context.Context, sessionID string, sender model.SenderRole) ([]model.MessageItem, error)
	CountUnread(ctx context.Context, sessionID string, sender model.SenderRole) (int, error)
	// MarkMessageRead reports false when the message was already read.
	MarkMessageRead(ctx context.Context, sessionID string, seq int64, readAt string) (bool, error)
	DeleteMessages(ctx context.Context, sessionID string) (int, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": database.S(sessionID),
	}
}

func messageKey(sessionID string, seq int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": database.S(sessionID),
		"seq":       database.N(seq),
	}
}

func anchorKey(visitorID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"visitorId": database.S(visitorID),
	}
}

func (r *DynamoRepository) GetVisitorAnchor(ctx context.Context, visitorID string) (model.VisitorSessionAnchor, error) {
	var anchor model.VisitorSessionAnchor
	err := r.db.Client.GetItem(ctx, model.VisitorSessionsTable, anchorKey(visitorID), &anchor)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.VisitorSessionAnchor{}, ErrNotFound
		}
		return model.VisitorSessionAnchor{}, err
	}
	return anchor, nil
}

func anchorCondition(anchorRevision int64) *database.Expression {
	if anchorRevision == 0 {
		return &database.Expression{Expr: "attribute_not_exists(visitorId)"}
	}
	return &database.Expression{
		Expr:   "#revision = :anchorRevision",
		Values: map[string]types.AttributeValue{":anchorRevision": database.N(anchorRevision)},
		Names:  map[string]string{"#revision": "revision"},
	}
}

func (r *DynamoRepository) CreateSession(ctx context.Context, session model.SessionItem, anchorRevision int64) error {
	putSession, err := database.PutOp(model.SessionsTable, session, &database.Expression{
		Expr: "attribute_not_exists(sessionId)",
	})
	if err != nil {
		return err
	}
	putAnchor, err := database.PutOp(model.VisitorSessionsTable, model.VisitorSessionAnchor{
		VisitorID: session.VisitorID,
		SessionID: session.SessionID,
		Revision:  anchorRevision + 1,
	}, anchorCondition(anchorRevision))
	if err != nil {
		return err
	}

	err = r.db.Client.TransactWrite(ctx, putSession, putAnchor)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) ReopenSession(ctx context.Context, session model.SessionItem, expectedVersion, anchorRevision int64) (model.SessionItem, error) {
	update, cond, err := stateUpdate(session, expectedVersion)
	if err != nil {
		return model.SessionItem{}, err
	}

	bumpAnchor := database.UpdateOp(
		model.VisitorSessionsTable,
		anchorKey(session.VisitorID),
		database.Expression{
			Expr:   "SET #revision = #revision + :one",
			Values: map[string]types.AttributeValue{":one": database.N(1)},
			Names:  map[string]string{"#revision": "revision"},
		},
		&database.Expression{
			Expr: "#revision = :anchorRevision AND #anchorSession = :sessionId",
			Values: map[string]types.AttributeValue{
				":anchorRevision": database.N(anchorRevision),
				":sessionId":      database.S(session.SessionID),
			},
			Names: map[string]string{"#anchorSession": "sessionId"},
		},
	)

	err = r.db.Client.TransactWrite(ctx,
		database.UpdateOp(model.SessionsTable, sessionKey(session.SessionID), update, &cond),
		bumpAnchor,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.SessionItem{}, ErrConflict
		}
		return model.SessionItem{}, err
	}

	// Transactions return no attributes; the written state is known.
	session.Version = expectedVersion + 1
	return session, nil
}

func (r *DynamoRepository) GetSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.GetItem(ctx, model.SessionsTable, sessionKey(sessionID), &session)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.SessionItem{}, ErrNotFound
		}
		return model.SessionItem{}, err
	}
	return session, nil
}

// stateUpdate builds the lifecycle write shared by UpdateSessionState and
// ReopenSession.
func stateUpdate(session model.SessionItem, expectedVersion int64) (database.Expression, database.Expression, error) {
	set := "SET #status = :status, #priority = :priority, #updatedAt = :updatedAt, #visitorName = :visitorName, #version = #version + :one"
	values := map[string]types.AttributeValue{
		":status":      database.S(string(session.Status)),
		":priority":    database.S(string(session.Priority)),
		":updatedAt":   database.S(session.UpdatedAt),
		":visitorName": database.S(session.VisitorName),
		":one":         database.N(1),
	}
	names := map[string]string{
		"#status":      "status",
		"#priority":    "priority",
		"#updatedAt":   "updatedAt",
		"#visitorName": "visitorName",
		"#version":     "version",
	}
	var remove []string

	optional := []struct {
		attr  string
		value string
	}{
		{"assignedOperator", session.AssignedOperator},
		{"closedAt", session.ClosedAt},
		{"closedBy", session.ClosedBy},
		{"visitorEmail", session.VisitorEmail},
	}
	for _, f := range optional {
		names["#"+f.attr] = f.attr
		if f.value == "" {
			remove = append(remove, "#"+f.attr)
			continue
		}
		set += fmt.Sprintf(", #%s = :%s", f.attr, f.attr)
		values[":"+f.attr] = database.S(f.value)
	}

	names["#satisfaction"] = "satisfaction"
	if session.Satisfaction != nil {
		av, err := attributevalue.Marshal(session.Satisfaction)
		if err != nil {
			return database.Expression{}, database.Expression{}, fmt.Errorf("marshal satisfaction: %w", err)
		}
		set += ", #satisfaction = :satisfaction"
		values[":satisfaction"] = av
	} else {
		remove = append(remove, "#satisfaction")
	}

	expr := set
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	update := database.Expression{Expr: expr, Values: values, Names: names}
	cond := database.Expression{
		Expr:   "attribute_exists(sessionId) AND #version = :expectedVersion",
		Values: map[string]types.AttributeValue{":expectedVersion": database.N(expectedVersion)},
	}
	return update, cond, nil
}

func (r *DynamoRepository) UpdateSessionState(ctx context.Context, session model.SessionItem, expectedVersion int64) (model.SessionItem, error) {
	update, cond, err := stateUpdate(session, expectedVersion)
	if err != nil {
		return model.SessionItem{}, err
	}

	var out model.SessionItem
	err = r.db.Client.UpdateItem(ctx, model.SessionsTable, sessionKey(session.SessionID), update, &cond, &out)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.SessionItem{}, ErrConflict
		}
		return model.SessionItem{}, err
	}
	return out, nil
}

func (r *DynamoRepository) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.SessionItem, error) {
	scanForward := false
	return r.querySessions(ctx, database.QueryInput{
		Table:       model.SessionsTable,
		Index:       model.SessionsByStatusIndex,
		KeyCond:     "#status = :status",
		Values:      map[string]types.AttributeValue{":status": database.S(string(status))},
		Names:       map[string]string{"#status": "status"},
		ScanForward: &scanForward,
	})
}

func (r *DynamoRepository) ListSessionsByOperator(ctx context.Context, operatorID string) ([]model.SessionItem, error) {
	scanForward := false
	return r.querySessions(ctx, database.QueryInput{
		Table:       model.SessionsTable,
		Index:       model.SessionsByOperatorIndex,
		KeyCond:     "assignedOperator = :operatorId",
		Values:      map[string]types.AttributeValue{":operatorId": database.S(operatorID)},
		ScanForward: &scanForward,
	})
}

func (r *DynamoRepository) ListClosedBefore(ctx context.Context, cutoff string) ([]model.SessionItem, error) {
	return r.querySessions(ctx, database.QueryInput{
		Table:   model.SessionsTable,
		Index:   model.SessionsByStatusIndex,
		KeyCond: "#status = :closed",
		Filter:  "#updatedAt < :cutoff",
		Values: map[string]types.AttributeValue{
			":closed": database.S(string(model.SessionStatusClosed)),
			":cutoff": database.S(cutoff),
		},
		Names: map[string]string{
			"#status":    "status",
			"#updatedAt": "updatedAt",
		},
	})
}

func (r *DynamoRepository) ClaimForPurge(ctx context.Context, sessionID, cutoff string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		database.Expression{
			Expr: "SET #status = :purging, #version = #version + :one",
			Values: map[string]types.AttributeValue{
				":purging": database.S(string(model.SessionStatusPurging)),
				":one":     database.N(1),
			},
			Names: map[string]string{"#version": "version"},
		},
		&database.Expression{
			Expr: "#status = :closed AND #updatedAt < :cutoff",
			Values: map[string]types.AttributeValue{
				":closed": database.S(string(model.SessionStatusClosed)),
				":cutoff": database.S(cutoff),
			},
			Names: map[string]string{
				"#status":    "status",
				"#updatedAt": "updatedAt",
			},
		},
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) DeletePurgingSession(ctx context.Context, sessionID string) error {
	err := r.db.Client.DeleteItem(ctx, model.SessionsTable, sessionKey(sessionID), &database.Expression{
		Expr:   "#status = :purging",
		Values: map[string]types.AttributeValue{":purging": database.S(string(model.SessionStatusPurging))},
		Names:  map[string]string{"#status": "status"},
	})
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) AllocateSeq(ctx context.Context, sessionID string) (int64, error) {
	var out struct {
		MessageSeq int64 `dynamodbav:"messageSeq"`
	}
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		database.Expression{
			Expr:   "ADD messageSeq :one",
			Values: map[string]types.AttributeValue{":one": database.N(1)},
		},
		&database.Expression{
			Expr: "attribute_exists(sessionId) AND #status IN (:waiting, :active)",
			Values: map[string]types.AttributeValue{
				":waiting": database.S(string(model.SessionStatusWaiting)),
				":active":  database.S(string(model.SessionStatusActive)),
			},
			Names: map[string]string{"#status": "status"},
		},
		&out,
	)
	if err != nil {
		if !errors.Is(err, database.ErrConditionFailed) {
			return 0, err
		}
		if _, getErr := r.GetSession(ctx, sessionID); errors.Is(getErr, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}
	return out.MessageSeq, nil
}

func (r *DynamoRepository) TouchSession(ctx context.Context, sessionID, at string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		database.Expression{
			Expr: "SET #lastMessageAt = :at, #updatedAt = :at",
			Values: map[string]types.AttributeValue{
				":at": database.S(at),
			},
			Names: map[string]string{
				"#lastMessageAt": "lastMessageAt",
				"#updatedAt":     "updatedAt",
			},
		},
		&database.Expression{Expr: "attribute_exists(sessionId) AND #lastMessageAt <= :at"},
		nil,
	)
	// A newer message already moved the timestamps forward.
	if errors.Is(err, database.ErrConditionFailed) {
		return nil
	}
	return err
}

func (r *DynamoRepository) PutMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItemWithCondition(ctx, model.MessagesTable, message, &database.Expression{
		Expr: "attribute_not_exists(seq)",
	})
}

func (r *DynamoRepository) ListMessages(ctx context.Context, sessionID string, limit int, newestFirst bool) ([]model.MessageItem, error) {
	scanForward := !newestFirst
	items, err := r.db.Client.QueryAll(ctx, database.QueryInput{
		Table:       model.MessagesTable,
		KeyCond:     "sessionId = :sessionId",
		Values:      map[string]types.AttributeValue{":sessionId": database.S(sessionID)},
		ScanForward: &scanForward,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	return unmarshalMessages(items)
}

func (r *DynamoRepository) ListUnread(ctx context.Context, sessionID string, sender model.SenderRole) ([]model.MessageItem, error) {
	items, err := r.db.Client.QueryAll(ctx, unreadQuery(sessionID, sender))
	if err != nil {
		return nil, err
	}
	return unmarshalMessages(items)
}

func (r *DynamoRepository) CountUnread(ctx context.Context, sessionID string, sender model.SenderRole) (int, error) {
	return r.db.Client.QueryCount(ctx, unreadQuery(sessionID, sender))
}

func unreadQuery(sessionID string, sender model.SenderRole) database.QueryInput {
	return database.QueryInput{
		Table:   model.MessagesTable,
		KeyCond: "sessionId = :sessionId",
		Filter:  "#isRead = :false AND #sender = :sender",
		Values: map[string]types.AttributeValue{
			":sessionId": database.S(sessionID),
			":false":     database.BOOL(false),
			":sender":    database.S(string(sender)),
		},
		Names: map[string]string{
			"#isRead": "isRead",
			"#sender": "sender",
		},
	}
}

func (r *DynamoRepository) MarkMessageRead(ctx context.Context, sessionID string, seq int64, readAt string) (bool, error) {
	err := r.db.Client.UpdateItem(
		ctx,
		model.MessagesTable,
		messageKey(sessionID, seq),
		database.Expression{
			Expr: "SET #isRead = :true, #readAt = :readAt",
			Values: map[string]types.AttributeValue{
				":true":   database.BOOL(true),
				":readAt": database.S(readAt),
			},
			Names: map[string]string{
				"#isRead": "isRead",
				"#readAt": "readAt",
			},
		},
		&database.Expression{
			Expr:   "attribute_exists(seq) AND #isRead = :false",
			Values: map[string]types.AttributeValue{":false": database.BOOL(false)},
		},
		nil,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *DynamoRepository) DeleteMessages(ctx context.Context, sessionID string) (int, error) {
	items, err := r.db.Client.QueryAll(ctx, database.QueryInput{
		Table:   model.MessagesTable,
		KeyCond: "sessionId = :sessionId",
		Values:  map[string]types.AttributeValue{":sessionId": database.S(sessionID)},
	})
	if err != nil {
		return 0, err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{
			"sessionId": item["sessionId"],
			"seq":       item["seq"],
		})
	}
	if err := r.db.Client.BatchDeleteItems(ctx, model.MessagesTable, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *DynamoRepository) querySessions(ctx context.Context, q database.QueryInput) ([]model.SessionItem, error) {
	items, err := r.db.Client.QueryAll(ctx, q)
	if err != nil {
		return nil, err
	}

	sessions := make([]model.SessionItem, 0, len(items))
	for _, item := range items {
		var session model.SessionItem
		if err := attributevalue.UnmarshalMap(item, &session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func unmarshalMessages(items []map[string]types.AttributeValue) ([]model.MessageItem, error) {
	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// sortByLastMessage orders sessions newest activity first, ties by id.
func sortByLastMessage(sessions []model.SessionItem) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].LastMessageAt != sessions[j].LastMessageAt {
			return sessions[i].LastMessageAt > sessions[j].LastMessageAt
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
}
