package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/peteski22/crmresolve/internal/crm"
)

const (
	// attrID is the sort key holding the record ID.
	attrID = "id"

	// attrObjectType is the partition key holding the object type.
	attrObjectType = "object_type"

	// attrPayload holds the record's JSON encoding.
	attrPayload = "payload"

	// maxFilterValues is the most values DynamoDB accepts in one IN comparison.
	maxFilterValues = 100
)

// DynamoDBAPI defines the DynamoDB operations used by the record store.
type DynamoDBAPI interface {
	// DeleteItem deletes an item from DynamoDB.
	DeleteItem(
		ctx context.Context,
		params *dynamodb.DeleteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DeleteItemOutput, error)

	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Query retrieves items matching a key condition from DynamoDB.
	Query(
		ctx context.Context,
		params *dynamodb.QueryInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.QueryOutput, error)
}

// DynamoDBStore keeps CRM records in a DynamoDB table keyed by object type and ID.
// Each string field of a record is also stored as a top-level attribute so it can be filtered on.
type DynamoDBStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// newID generates IDs for inserted records.
	newID func() string

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB-backed record store.
func NewDynamoDBStore(client DynamoDBAPI, tableName string) (*DynamoDBStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &DynamoDBStore{
		client:    client,
		newID:     uuid.NewString,
		tableName: tableName,
	}, nil
}

// Find returns the records whose field equals one of the query values,
// or every record of the object type when the query has no field.
func (s *DynamoDBStore) Find(ctx context.Context, q crm.Query) ([]crm.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	if q.Field == crm.FieldID {
		return s.findByID(ctx, q)
	}

	if q.Field == "" {
		return s.queryChunk(ctx, q, nil, q.Limit)
	}

	var records []crm.Record
	for start := 0; start < len(q.Values); start += maxFilterValues {
		end := min(start+maxFilterValues, len(q.Values))

		found, err := s.queryChunk(ctx, q, q.Values[start:end], q.Limit-len(records))
		if err != nil {
			return nil, err
		}
		records = append(records, found...)

		if q.Limit > 0 && len(records) >= q.Limit {
			break
		}
	}

	return records, nil
}

// queryChunk queries one object type partition, filtering on up to maxFilterValues values.
// A non-positive remaining means no limit.
func (s *DynamoDBStore) queryChunk(
	ctx context.Context,
	q crm.Query,
	values []string,
	remaining int,
) ([]crm.Record, error) {
	attrValues := map[string]types.AttributeValue{
		":object": &types.AttributeValueMemberS{Value: string(q.Object)},
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		key := ":v" + strconv.Itoa(i)
		placeholders[i] = key
		attrValues[key] = &types.AttributeValueMemberS{Value: v}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    aws.String(attrObjectType + " = :object"),
		ExpressionAttributeValues: attrValues,
	}
	// Without values the whole partition is read.
	if len(values) > 0 {
		input.FilterExpression = aws.String(filterExpression(placeholders))
		input.ExpressionAttributeNames = map[string]string{"#field": q.Field}
	}

	var records []crm.Record
	for {
		output, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			r, err := parseRecordItem(q.Object, item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			records = append(records, r)

			if remaining > 0 && len(records) >= remaining {
				return records, nil
			}
		}

		if len(output.LastEvaluatedKey) == 0 {
			return records, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// findByID looks up records by key, since key attributes cannot appear in a filter.
func (s *DynamoDBStore) findByID(ctx context.Context, q crm.Query) ([]crm.Record, error) {
	var records []crm.Record
	for _, id := range q.Values {
		output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key:       recordKey(q.Object, id),
		})
		if err != nil {
			return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
		}
		if output.Item == nil {
			continue
		}

		r, err := parseRecordItem(q.Object, output.Item)
		if err != nil {
			return nil, fmt.Errorf("parsing item: %w", err)
		}
		records = append(records, r)

		if q.Limit > 0 && len(records) >= q.Limit {
			break
		}
	}

	return records, nil
}

// Insert stores each record under a new ID and assigns the ID to records written successfully.
func (s *DynamoDBStore) Insert(ctx context.Context, records []crm.Record) error {
	result := newBatchResult("insert", len(records))
	for i, r := range records {
		s.insertOne(ctx, result, i, r)
	}
	return result.err()
}

// Update overwrites existing records. Records without an ID or not in the table fail.
func (s *DynamoDBStore) Update(ctx context.Context, records []crm.Record) error {
	result := newBatchResult("update", len(records))
	for i, r := range records {
		s.updateOne(ctx, result, i, r)
	}
	return result.err()
}

// Upsert inserts records without an ID and updates the rest.
// Failure indexes count inserts first, then updates.
func (s *DynamoDBStore) Upsert(ctx context.Context, records []crm.Record) error {
	inserts, updates := splitByID(records)

	result := newBatchResult("upsert", len(records))
	for i, r := range inserts {
		s.insertOne(ctx, result, i, r)
	}
	for i, r := range updates {
		s.updateOne(ctx, result, len(inserts)+i, r)
	}
	return result.err()
}

// Delete removes records by ID. Deleting an ID that does not exist is not an error.
func (s *DynamoDBStore) Delete(ctx context.Context, object crm.ObjectType, ids []string) error {
	result := newBatchResult("delete", len(ids))
	for i, id := range ids {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       recordKey(object, id),
		})
		if err != nil {
			result.fail(i, id, "", fmt.Errorf("deleting item from DynamoDB: %w", err))
		}
	}
	return result.err()
}

func (s *DynamoDBStore) insertOne(ctx context.Context, result *batchResult, index int, r crm.Record) {
	id := s.newID()
	if err := s.put(ctx, r, id, "attribute_not_exists("+attrID+")"); err != nil {
		result.fail(index, "", errorCode(err), err)
		return
	}
	r.SetRecordID(id)
}

func (s *DynamoDBStore) updateOne(ctx context.Context, result *batchResult, index int, r crm.Record) {
	id := r.RecordID()
	if id == "" {
		result.fail(index, "", "MISSING_ID", errors.New("record has no ID"))
		return
	}
	if err := s.put(ctx, r, id, "attribute_exists("+attrID+")"); err != nil {
		result.fail(index, id, errorCode(err), err)
	}
}

func (s *DynamoDBStore) put(ctx context.Context, r crm.Record, id string, condition string) error {
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}

	item := recordKey(r.ObjectType(), id)
	item[attrPayload] = &types.AttributeValueMemberS{Value: string(enc.payload)}
	for field, value := range enc.fields {
		item[field] = &types.AttributeValueMemberS{Value: value}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return nil
}

func filterExpression(placeholders []string) string {
	if len(placeholders) == 1 {
		return "#field = " + placeholders[0]
	}

	expr := "#field IN ("
	for i, p := range placeholders {
		if i > 0 {
			expr += ", "
		}
		expr += p
	}
	return expr + ")"
}

func recordKey(object crm.ObjectType, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrObjectType: &types.AttributeValueMemberS{Value: string(object)},
		attrID:         &types.AttributeValueMemberS{Value: id},
	}
}

func parseRecordItem(object crm.ObjectType, item map[string]types.AttributeValue) (crm.Record, error) {
	id, ok := item[attrID].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("item has no id")
	}

	payload, ok := item[attrPayload].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("item %s has no payload", id.Value)
	}

	return decodeRecord(object, id.Value, []byte(payload.Value))
}

// errorCode maps DynamoDB failures to record failure codes.
func errorCode(err error) string {
	var conditionErr *types.ConditionalCheckFailedException
	if errors.As(err, &conditionErr) {
		return "CONDITIONAL_CHECK_FAILED"
	}
	return ""
}
