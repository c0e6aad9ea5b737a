package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IndexSpec describes a global secondary index with an optional range key.
type IndexSpec struct {
	Name     string
	HashKey  string
	RangeKey string
}

// TableSpec describes a table the service expects to exist.
type TableSpec struct {
	Name         string
	HashKey      string
	RangeKey     string
	RangeKeyType types.ScalarAttributeType
	Indexes      []IndexSpec
}

// ListTables returns all table names visible to the client.
func (c *DynamoDBClient) ListTables(ctx context.Context) ([]string, error) {
	var last *string
	var names []string

	for {
		out, err := c.svc.ListTables(ctx, &dynamodb.ListTablesInput{
			ExclusiveStartTableName: last,
			Limit:                   aws.Int32(100),
		})
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}

		names = append(names, out.TableNames...)
		if out.LastEvaluatedTableName == nil {
			break
		}
		last = out.LastEvaluatedTableName
	}

	return names, nil
}

func (c *DynamoDBClient) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := c.svc.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	return out.Table, nil
}

// EnsureTables creates every missing table and waits until it is active.
// It returns the names of the tables it created.
func (c *DynamoDBClient) EnsureTables(ctx context.Context, specs []TableSpec) ([]string, error) {
	existing, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		present[name] = struct{}{}
	}

	var created []string
	for _, spec := range specs {
		if _, ok := present[spec.Name]; ok {
			continue
		}
		if _, err := c.svc.CreateTable(ctx, spec.createInput()); err != nil {
			return created, fmt.Errorf("create table %s: %w", spec.Name, err)
		}

		waiter := dynamodb.NewTableExistsWaiter(c.svc)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(spec.Name)}, 2*time.Minute); err != nil {
			return created, fmt.Errorf("wait for table %s: %w", spec.Name, err)
		}
		created = append(created, spec.Name)
	}
	return created, nil
}

func (spec TableSpec) createInput() *dynamodb.CreateTableInput {
	attrs := map[string]types.ScalarAttributeType{spec.HashKey: types.ScalarAttributeTypeS}
	keySchema := []types.KeySchemaElement{
		{AttributeName: aws.String(spec.HashKey), KeyType: types.KeyTypeHash},
	}
	if spec.RangeKey != "" {
		rangeType := spec.RangeKeyType
		if rangeType == "" {
			rangeType = types.ScalarAttributeTypeS
		}
		attrs[spec.RangeKey] = rangeType
		keySchema = append(keySchema, types.KeySchemaElement{AttributeName: aws.String(spec.RangeKey), KeyType: types.KeyTypeRange})
	}

	var gsis []types.GlobalSecondaryIndex
	for _, idx := range spec.Indexes {
		if _, ok := attrs[idx.HashKey]; !ok {
			attrs[idx.HashKey] = types.ScalarAttributeTypeS
		}
		schema := []types.KeySchemaElement{
			{AttributeName: aws.String(idx.HashKey), KeyType: types.KeyTypeHash},
		}
		if idx.RangeKey != "" {
			if _, ok := attrs[idx.RangeKey]; !ok {
				attrs[idx.RangeKey] = types.ScalarAttributeTypeS
			}
			schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(idx.RangeKey), KeyType: types.KeyTypeRange})
		}
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  schema,
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	definitions := make([]types.AttributeDefinition, 0, len(attrs))
	for name, typ := range attrs {
		definitions = append(definitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: typ,
		})
	}

	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(spec.Name),
		AttributeDefinitions: definitions,
		KeySchema:            keySchema,
		BillingMode:          types.BillingModePayPerRequest,
	}
	if len(gsis) > 0 {
		input.GlobalSecondaryIndexes = gsis
	}
	return input
}
