package visitor

import (
	"context"
	"errors"
	"fmt"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("visitor repository: not found")
	// ErrConflict reports a taken token or a stale visitor version.
	ErrConflict = errors.New("visitor repository: conflict")
)

type Repository interface {
	GetVisitor(ctx context.Context, visitorID string) (model.VisitorItem, error)
	// FindByToken resolves the token through the token table, so a visitor
	// created a moment ago is always found.
	FindByToken(ctx context.Context, sessionToken string) (model.VisitorItem, error)
	// FindLatestByIP returns the most recently created visitor for ip whose
	// createdAt is at or after since.
	FindLatestByIP(ctx context.Context, ip, since string) (model.VisitorItem, error)
	// CreateVisitor claims the visitor's token and stores the visitor in one
	// transaction. It fails with ErrConflict when the token is taken.
	CreateVisitor(ctx context.Context, visitor model.VisitorItem) error
	// SaveVisitor writes visitor if the stored version still equals
	// expectedVersion and stores it as expectedVersion+1.
	SaveVisitor(ctx context.Context, visitor model.VisitorItem, expectedVersion int64) error
	ListActiveSince(ctx context.Context, since string) ([]model.VisitorItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetVisitor(ctx context.Context, visitorID string) (model.VisitorItem, error) {
	var visitor model.VisitorItem
	err := r.db.Client.GetItem(ctx, model.VisitorsTable, visitorKey(visitorID), &visitor)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.VisitorItem{}, ErrNotFound
		}
		return model.VisitorItem{}, err
	}
	return visitor, nil
}

func (r *DynamoRepository) FindByToken(ctx context.Context, sessionToken string) (model.VisitorItem, error) {
	var token model.VisitorTokenItem
	err := r.db.Client.GetItem(ctx, model.VisitorTokensTable, map[string]types.AttributeValue{
		"sessionToken": database.S(sessionToken),
	}, &token)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.VisitorItem{}, ErrNotFound
		}
		return model.VisitorItem{}, err
	}
	return r.GetVisitor(ctx, token.VisitorID)
}

func (r *DynamoRepository) FindLatestByIP(ctx context.Context, ip, since string) (model.VisitorItem, error) {
	scanForward := false
	items, err := r.db.Client.QueryAll(ctx, database.QueryInput{
		Table:   model.VisitorsTable,
		Index:   model.VisitorsByIPAddressIndex,
		KeyCond: "ipAddress = :ip AND createdAt >= :since",
		Values: map[string]types.AttributeValue{
			":ip":    database.S(ip),
			":since": database.S(since),
		},
		ScanForward: &scanForward,
		Limit:       1,
	})
	if err != nil {
		return model.VisitorItem{}, err
	}
	return firstVisitor(items)
}

func (r *DynamoRepository) CreateVisitor(ctx context.Context, visitor model.VisitorItem) error {
	putToken, err := database.PutOp(model.VisitorTokensTable, model.VisitorTokenItem{
		SessionToken: visitor.SessionToken,
		VisitorID:    visitor.VisitorID,
		CreatedAt:    visitor.CreatedAt,
	}, &database.Expression{Expr: "attribute_not_exists(sessionToken)"})
	if err != nil {
		return err
	}
	putVisitor, err := database.PutOp(model.VisitorsTable, visitor, &database.Expression{
		Expr: "attribute_not_exists(visitorId)",
	})
	if err != nil {
		return err
	}

	err = r.db.Client.TransactWrite(ctx, putToken, putVisitor)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) SaveVisitor(ctx context.Context, visitor model.VisitorItem, expectedVersion int64) error {
	cond := &database.Expression{
		Expr:   "attribute_exists(visitorId) AND #version = :expectedVersion",
		Values: map[string]types.AttributeValue{":expectedVersion": database.N(expectedVersion)},
		Names:  map[string]string{"#version": "version"},
	}
	if expectedVersion == 0 {
		cond.Expr = "attribute_exists(visitorId) AND (attribute_not_exists(#version) OR #version = :expectedVersion)"
	}

	visitor.Version = expectedVersion + 1
	err := r.db.Client.PutItemWithCondition(ctx, model.VisitorsTable, visitor, cond)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) ListActiveSince(ctx context.Context, since string) ([]model.VisitorItem, error) {
	items, err := r.db.Client.ScanAllWithFilter(
		ctx,
		model.VisitorsTable,
		"#lastActivity >= :since",
		map[string]types.AttributeValue{
			":since": database.S(since),
		},
		map[string]string{
			"#lastActivity": "lastActivity",
		},
	)
	if err != nil {
		return nil, err
	}

	visitors := make([]model.VisitorItem, 0, len(items))
	for _, item := range items {
		var v model.VisitorItem
		if err := attributevalue.UnmarshalMap(item, &v); err != nil {
			return nil, fmt.Errorf("unmarshal visitor: %w", err)
		}
		visitors = append(visitors, v)
	}
	return visitors, nil
}

func visitorKey(visitorID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"visitorId": database.S(visitorID),
	}
}

func firstVisitor(items []map[string]types.AttributeValue) (model.VisitorItem, error) {
	if len(items) == 0 {
		return model.VisitorItem{}, ErrNotFound
	}
	var v model.VisitorItem
	if err := attributevalue.UnmarshalMap(items[0], &v); err != nil {
		return model.VisitorItem{}, fmt.Errorf("unmarshal visitor: %w", err)
	}
	return v, nil
}
