package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Expression bundles a condition or update expression with its placeholders.
type Expression struct {
	Expr   string
	Values map[string]types.AttributeValue
	Names  map[string]string
}

// QueryInput describes a key-condition query against a table or index.
type QueryInput struct {
	Table       string
	Index       string
	KeyCond     string
	Filter      string
	Values      map[string]types.AttributeValue
	Names       map[string]string
	ScanForward *bool
	Limit       int
}

func S(value string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: value}
}

func N(value int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", value)}
}

func BOOL(value bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: value}
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (c *DynamoDBClient) PutItem(
	ctx context.Context,
	tableName string,
	item interface{},
) error {
	return c.PutItemWithCondition(ctx, tableName, item, nil)
}

// PutItemWithCondition returns ErrConditionFailed when cond rejects the write.
func (c *DynamoDBClient) PutItemWithCondition(
	ctx context.Context,
	tableName string,
	item interface{},
	cond *Expression,
) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      av,
	}
	if cond != nil {
		input.ConditionExpression = aws.String(cond.Expr)
		input.ExpressionAttributeValues = cond.Values
		input.ExpressionAttributeNames = cond.Names
	}

	if _, err = c.svc.PutItem(ctx, input); err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("put item %s: %w", tableName, ErrConditionFailed)
		}
		return fmt.Errorf("put item %s: %w", tableName, err)
	}
	return nil
}

func (c *DynamoDBClient) GetItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	out interface{},
) error {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	}

	res, err := c.svc.GetItem(ctx, input)
	if err != nil {
		return fmt.Errorf("get item %s: %w", tableName, err)
	}
	if res.Item == nil {
		return fmt.Errorf("get item %s: %w", tableName, ErrItemNotFound)
	}

	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	return nil
}

// UpdateItem applies update and, when cond is set, fails with
// ErrConditionFailed if the stored item does not satisfy it.
// Placeholders of update and cond are merged.
func (c *DynamoDBClient) UpdateItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	update Expression,
	cond *Expression,
	out interface{},
) error {
	values := make(map[string]types.AttributeValue, len(update.Values))
	names := make(map[string]string, len(update.Names))
	for k, v := range update.Values {
		values[k] = v
	}
	for k, v := range update.Names {
		names[k] = v
	}

	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(tableName),
		Key:              key,
		UpdateExpression: aws.String(update.Expr),
		ReturnValues:     types.ReturnValueAllNew,
	}

	if cond != nil {
		input.ConditionExpression = aws.String(cond.Expr)
		for k, v := range cond.Values {
			values[k] = v
		}
		for k, v := range cond.Names {
			names[k] = v
		}
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	res, err := c.svc.UpdateItem(ctx, input)
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("update item %s: %w", tableName, ErrConditionFailed)
		}
		return fmt.Errorf("update item %s: %w", tableName, err)
	}

	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("unmarshal updated item: %w", err)
		}
	}
	return nil
}

func (c *DynamoDBClient) DeleteItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	cond *Expression,
) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName),
		Key:       key,
	}
	if cond != nil {
		input.ConditionExpression = aws.String(cond.Expr)
		input.ExpressionAttributeValues = cond.Values
		input.ExpressionAttributeNames = cond.Names
	}

	if _, err := c.svc.DeleteItem(ctx, input); err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("delete item %s: %w", tableName, ErrConditionFailed)
		}
		return fmt.Errorf("delete item %s: %w", tableName, err)
	}
	return nil
}

func (q QueryInput) build() *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(q.Table),
		KeyConditionExpression:    aws.String(q.KeyCond),
		ExpressionAttributeValues: q.Values,
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.Filter != "" {
		input.FilterExpression = aws.String(q.Filter)
	}
	if len(q.Names) > 0 {
		input.ExpressionAttributeNames = q.Names
	}
	if q.ScanForward != nil {
		input.ScanIndexForward = aws.Bool(*q.ScanForward)
	}
	return input
}

// QueryAll follows LastEvaluatedKey until the result set is exhausted or
// Limit items have been collected.
func (c *DynamoDBClient) QueryAll(ctx context.Context, q QueryInput) ([]map[string]types.AttributeValue, error) {
	var allItems []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := q.build()
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := c.svc.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query all %s[%s]: %w", q.Table, q.Index, err)
		}

		allItems = append(allItems, result.Items...)

		if q.Limit > 0 && len(allItems) >= q.Limit {
			return allItems[:q.Limit], nil
		}
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// QueryCount returns the number of matching items without fetching them.
func (c *DynamoDBClient) QueryCount(ctx context.Context, q QueryInput) (int, error) {
	total := 0
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := q.build()
		input.Select = types.SelectCount
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := c.svc.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("query count %s[%s]: %w", q.Table, q.Index, err)
		}
		total += int(result.Count)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return total, nil
}

func (c *DynamoDBClient) ScanAllWithFilter(
	ctx context.Context,
	tableName string,
	filterExpr string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
) ([]map[string]types.AttributeValue, error) {
	var allItems []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:                 aws.String(tableName),
			FilterExpression:          aws.String(filterExpr),
			ExpressionAttributeValues: exprAttrValues,
		}
		if exprAttrNames != nil {
			input.ExpressionAttributeNames = exprAttrNames
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := c.svc.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan all with filter %s: %w", tableName, err)
		}

		allItems = append(allItems, result.Items...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
	return allItems, nil
}

func (c *DynamoDBClient) BatchDeleteItems(
	ctx context.Context,
	tableName string,
	keys []map[string]types.AttributeValue,
) error {
	if len(keys) == 0 {
		return nil
	}

	writeRequests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		writeRequests = append(writeRequests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}

	const batchSize = 25
	for i := 0; i < len(writeRequests); i += batchSize {
		end := i + batchSize
		if end > len(writeRequests) {
			end = len(writeRequests)
		}

		requests := map[string][]types.WriteRequest{
			tableName: writeRequests[i:end],
		}
		if err := c.batchWriteWithRetry(ctx, requests); err != nil {
			return fmt.Errorf("batch delete %s: %w", tableName, err)
		}
	}

	return nil
}

func (c *DynamoDBClient) batchWriteWithRetry(
	ctx context.Context,
	requests map[string][]types.WriteRequest,
) error {
	const maxRetries = 3
	retryCount := 0
	currentRequests := requests

	for len(currentRequests) > 0 && retryCount < maxRetries {
		result, err := c.svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: currentRequests,
		})
		if err != nil {
			return fmt.Errorf("batch write (attempt %d): %w", retryCount+1, err)
		}

		if len(result.UnprocessedItems) == 0 {
			return nil
		}

		currentRequests = result.UnprocessedItems
		retryCount++

		if retryCount < maxRetries {
			backoffDuration := time.Duration(1<<uint(retryCount-1)) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDuration):
			}
		}
	}

	if n := countUnprocessedItems(currentRequests); n > 0 {
		return fmt.Errorf("failed to process all items after %d retries, %d items remain unprocessed", maxRetries, n)
	}
	return nil
}

func countUnprocessedItems(requests map[string][]types.WriteRequest) int {
	count := 0
	for _, reqs := range requests {
		count += len(reqs)
	}
	return count
}
