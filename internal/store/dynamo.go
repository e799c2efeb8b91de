package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
//
//	PK EDIT#{editId}   SK META                     edit record
//	                   SK STRENGTH#{nnn}           strength cache entry
//	                   SK HIST#{seq:010d}          ledger entry, ordered by SK
//	                   SK PARAM#{fp}#{strength}    ledger uniqueness pointer
//	                   SK SEQ                      last assigned sequence
//	PK IMAGE#{imageId} SK SUGGEST                  suggestions cache entry
const (
	pkEdit     = "EDIT#"
	pkImage    = "IMAGE#"
	skMeta     = "META"
	skStrength = "STRENGTH#"
	skHistory  = "HIST#"
	skParam    = "PARAM#"
	skSeq      = "SEQ"
	skSuggest  = "SUGGEST"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25

	// maxSequenceRetries bounds the optimistic ledger append loop. Each
	// retry means another writer appended to the same edit in between.
	maxSequenceRetries = 16
)

// Backoff between resubmits of unprocessed batch items. Variables so tests
// can shorten them.
var (
	batchRetryBase = 50 * time.Millisecond
	batchRetryMax  = 2 * time.Second
)

// dynamoAPI is the subset of *dynamodb.Client the store uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table with string
// attributes PK and SK.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// TableName returns the backing table, for startup logging.
func (s *DynamoStore) TableName() string { return s.tableName }

// Close is a no-op; the SDK client owns no resources that need releasing.
func (s *DynamoStore) Close() error { return nil }

// --- Key helpers ---

func editPK(editID string) string  { return pkEdit + editID }
func imagePK(imageID string) string { return pkImage + imageID }

func strengthSK(strength int) string { return fmt.Sprintf("%s%03d", skStrength, strength) }

func historySK(seq int64) string { return fmt.Sprintf("%s%010d", skHistory, seq) }

func paramSK(fingerprint string, strength int) string {
	return fmt.Sprintf("%s%s#%03d", skParam, fingerprint, strength)
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// --- Internal helpers ---

// marshalItem marshals a domain object and adds its PK/SK.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
func marshalItem(pk, sk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	return item, nil
}

// putItem writes a domain object with full-item replacement.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := marshalItem(pk, sk, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, consistent bool, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(pk, sk),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// deleteItem removes a single item by PK/SK.
func (s *DynamoStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       keyOf(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// query pages through every item of a partition, optionally restricted to a
// sort key prefix. Items come back in ascending SK order.
func (s *DynamoStore) query(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :skPrefix)")
		input.ExpressionAttributeValues[":skPrefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var allItems []map[string]types.AttributeValue
	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return allItems, nil
}

// batchDeleteKeys deletes items in chunks of maxBatchWrite, resubmitting
// unprocessed items with exponential backoff until the batch drains or ctx
// ends.
func (s *DynamoStore) batchDeleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	delay := batchRetryBase
	for i := 0; i < len(keys); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(keys))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		pending := map[string][]types.WriteRequest{s.tableName: requests}
		for len(pending[s.tableName]) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("BatchWriteItem delete (%d items): %w", len(pending[s.tableName]), err)
			}
			pending = out.UnprocessedItems
			if n := len(pending[s.tableName]); n > 0 {
				log.Debug().Int("unprocessed", n).Dur("backoff", delay).Msg("BatchWriteItem throttled, resubmitting")
				select {
				case <-ctx.Done():
					return fmt.Errorf("BatchWriteItem unprocessed items: %w", ctx.Err())
				case <-time.After(delay):
				}
				delay = min(delay*2, batchRetryMax)
			} else {
				delay = batchRetryBase
			}
		}
	}
	return nil
}

// keysOf extracts PK/SK from raw items for deletion.
func keysOf(items []map[string]types.AttributeValue) []map[string]types.AttributeValue {
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	return keys
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// --- Edit operations ---

func (s *DynamoStore) CreateEdit(ctx context.Context, edit *Edit) error {
	now := time.Now().Unix()
	if edit.CreatedAt == 0 {
		edit.CreatedAt = now
	}
	edit.UpdatedAt = now

	item, err := marshalItem(editPK(edit.ID), skMeta, edit)
	if err != nil {
		return fmt.Errorf("create edit %s: %w", edit.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("create edit %s: %w", edit.ID, ErrConflict)
		}
		return fmt.Errorf("create edit %s: %w", edit.ID, err)
	}

	log.Debug().Str("editId", edit.ID).Str("status", string(edit.Status)).Msg("Edit persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetEdit(ctx context.Context, editID string) (*Edit, error) {
	var edit Edit
	found, err := s.getItem(ctx, editPK(editID), skMeta, true, &edit)
	if err != nil {
		return nil, fmt.Errorf("get edit %s: %w", editID, err)
	}
	if !found {
		return nil, nil
	}
	edit.ID = editID
	return &edit, nil
}

// updateEdit applies a SET (and optional REMOVE) expression to an existing
// edit. "status" is a DynamoDB reserved word, so expressions reference it as
// #s; "error" is referenced as #e.
func (s *DynamoStore) updateEdit(ctx context.Context, editID, set, remove string, values map[string]types.AttributeValue, returnNew bool) (*Edit, error) {
	values[":now"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)}
	expr := set + ", updatedAt = :now"
	if remove != "" {
		expr += " REMOVE " + remove
	}
	names := map[string]string{"#s": "status"}
	if strings.Contains(expr, "#e") {
		names["#e"] = "error"
	}
	input := &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(editPK(editID), skMeta),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if returnNew {
		input.ReturnValues = types.ReturnValueAllNew
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !returnNew {
		return nil, nil
	}
	var edit Edit
	if err := attributevalue.UnmarshalMap(out.Attributes, &edit); err != nil {
		return nil, fmt.Errorf("unmarshal updated edit: %w", err)
	}
	edit.ID = editID
	return &edit, nil
}

func (s *DynamoStore) MarkProcessing(ctx context.Context, editID string, upd ProcessingUpdate) (*Edit, error) {
	set := "SET #s = :s"
	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
	}
	if upd.Prompt != nil {
		set += ", prompt = :p"
		values[":p"] = &types.AttributeValueMemberS{Value: *upd.Prompt}
	}
	if upd.RefinedPrompt != nil {
		set += ", refinedPrompt = :rp"
		values[":rp"] = &types.AttributeValueMemberS{Value: *upd.RefinedPrompt}
	}
	edit, err := s.updateEdit(ctx, editID, set, "", values, true)
	if err != nil {
		return nil, fmt.Errorf("mark edit %s processing: %w", editID, err)
	}
	log.Debug().Str("editId", editID).Msg("Edit status updated to processing")
	return edit, nil
}

func (s *DynamoStore) CompleteAttempt(ctx context.Context, editID string, c Completion) error {
	_, err := s.updateEdit(ctx, editID,
		"SET #s = :s, currentImageId = :img, effectStrength = :str", "#e",
		map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":img": &types.AttributeValueMemberS{Value: c.ImageID},
			":str": &types.AttributeValueMemberN{Value: strconv.Itoa(c.Strength)},
		}, false)
	if err != nil {
		return fmt.Errorf("complete edit %s: %w", editID, err)
	}
	log.Debug().Str("editId", editID).Str("imageId", c.ImageID).Msg("Edit status updated to completed")
	return nil
}

func (s *DynamoStore) FailAttempt(ctx context.Context, editID, msg string) error {
	_, err := s.updateEdit(ctx, editID, "SET #s = :s, #e = :e", "",
		map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":e": &types.AttributeValueMemberS{Value: msg},
		}, false)
	if err != nil {
		return fmt.Errorf("fail edit %s: %w", editID, err)
	}
	log.Debug().Str("editId", editID).Msg("Edit status updated to failed")
	return nil
}

func (s *DynamoStore) SetTitleIfEmpty(ctx context.Context, editID, title string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(editPK(editID), skMeta),
		UpdateExpression:    aws.String("SET title = :t"),
		ConditionExpression: aws.String("attribute_exists(PK) AND (attribute_not_exists(title) OR title = :empty)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":     &types.AttributeValueMemberS{Value: title},
			":empty": &types.AttributeValueMemberS{Value: ""},
		},
	})
	if err != nil && !isConditionalCheckFailed(err) {
		return fmt.Errorf("set title for edit %s: %w", editID, err)
	}
	return nil
}

func (s *DynamoStore) DeleteEdit(ctx context.Context, editID string) error {
	items, err := s.query(ctx, editPK(editID), "")
	if err != nil {
		return fmt.Errorf("delete edit %s: %w", editID, err)
	}
	if err := s.batchDeleteKeys(ctx, keysOf(items)); err != nil {
		return fmt.Errorf("delete edit %s: %w", editID, err)
	}
	log.Info().Str("editId", editID).Int("items", len(items)).Msg("Edit and caches deleted")
	return nil
}
