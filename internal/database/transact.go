package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PutOp builds a transactional put of item, guarded by cond when set.
func PutOp(tableName string, item interface{}, cond *Expression) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal item: %w", err)
	}

	put := &types.Put{
		TableName: aws.String(tableName),
		Item:      av,
	}
	if cond != nil {
		put.ConditionExpression = aws.String(cond.Expr)
		put.ExpressionAttributeValues = cond.Values
		put.ExpressionAttributeNames = cond.Names
	}
	return types.TransactWriteItem{Put: put}, nil
}

// UpdateOp builds a transactional update. Placeholders of update and cond
// are merged the same way UpdateItem merges them.
func UpdateOp(tableName string, key map[string]types.AttributeValue, update Expression, cond *Expression) types.TransactWriteItem {
	values := make(map[string]types.AttributeValue, len(update.Values))
	names := make(map[string]string, len(update.Names))
	for k, v := range update.Values {
		values[k] = v
	}
	for k, v := range update.Names {
		names[k] = v
	}

	op := &types.Update{
		TableName:        aws.String(tableName),
		Key:              key,
		UpdateExpression: aws.String(update.Expr),
	}
	if cond != nil {
		op.ConditionExpression = aws.String(cond.Expr)
		for k, v := range cond.Values {
			values[k] = v
		}
		for k, v := range cond.Names {
			names[k] = v
		}
	}
	if len(values) > 0 {
		op.ExpressionAttributeValues = values
	}
	if len(names) > 0 {
		op.ExpressionAttributeNames = names
	}
	return types.TransactWriteItem{Update: op}
}

// TransactWrite applies ops atomically. A rejected condition on any op is
// reported as ErrConditionFailed.
func (c *DynamoDBClient) TransactWrite(ctx context.Context, ops ...types.TransactWriteItem) error {
	if len(ops) == 0 {
		return nil
	}

	_, err := c.svc.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: ops,
	})
	if err != nil {
		if transactConditionFailed(err) {
			return fmt.Errorf("transact write: %w", ErrConditionFailed)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func transactConditionFailed(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
