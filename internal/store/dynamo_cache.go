package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// seqRecord is the per-edit sequence counter (SK = SEQ).
type seqRecord struct {
	Last int64 `dynamodbav:"last"`
}

// --- Strength cache ---

func (s *DynamoStore) GetStrength(ctx context.Context, editID string, strength int) (*StrengthEntry, error) {
	var entry StrengthEntry
	found, err := s.getItem(ctx, editPK(editID), strengthSK(strength), true, &entry)
	if err != nil {
		return nil, fmt.Errorf("get strength %s@%d: %w", editID, strength, err)
	}
	if !found {
		return nil, nil
	}
	entry.EditID = editID
	return &entry, nil
}

func (s *DynamoStore) PutStrength(ctx context.Context, entry *StrengthEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	if err := s.putItem(ctx, editPK(entry.EditID), strengthSK(entry.Strength), entry); err != nil {
		return fmt.Errorf("put strength %s@%d: %w", entry.EditID, entry.Strength, err)
	}
	log.Debug().
		Str("editId", entry.EditID).
		Int("strength", entry.Strength).
		Str("imageId", entry.ImageID).
		Msg("Strength cache entry persisted")
	return nil
}

func (s *DynamoStore) ListStrength(ctx context.Context, editID string) ([]*StrengthEntry, error) {
	items, err := s.query(ctx, editPK(editID), skStrength)
	if err != nil {
		return nil, fmt.Errorf("list strength %s: %w", editID, err)
	}
	entries := make([]*StrengthEntry, 0, len(items))
	for _, item := range items {
		var entry StrengthEntry
		if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal strength %s: %w", editID, err)
		}
		entry.EditID = editID
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *DynamoStore) PurgeStrengthCache(ctx context.Context, editID string) ([]string, error) {
	items, err := s.query(ctx, editPK(editID), skStrength)
	if err != nil {
		return nil, fmt.Errorf("purge strength cache %s: %w", editID, err)
	}
	imageIDs := make([]string, 0, len(items))
	for _, item := range items {
		if v, ok := item["imageId"].(*types.AttributeValueMemberS); ok && v.Value != "" {
			imageIDs = append(imageIDs, v.Value)
		}
	}
	if err := s.batchDeleteKeys(ctx, keysOf(items)); err != nil {
		return nil, fmt.Errorf("purge strength cache %s: %w", editID, err)
	}
	return imageIDs, nil
}

// --- Ledger ---

func (s *DynamoStore) lastSequence(ctx context.Context, editID string) (int64, error) {
	var rec seqRecord
	if _, err := s.getItem(ctx, editPK(editID), skSeq, true, &rec); err != nil {
		return 0, err
	}
	return rec.Last, nil
}

func (s *DynamoStore) NextSequence(ctx context.Context, editID string) (int64, error) {
	last, err := s.lastSequence(ctx, editID)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", editID, err)
	}
	return last + 1, nil
}

// AppendHistory writes the counter, the uniqueness pointer and the ordered
// entry in one transaction. The counter put is conditioned on the value read
// beforehand, so concurrent appenders serialise through retries and no
// sequence is ever skipped or reused. A failed pointer condition means the
// same (fingerprint, strength) was already recorded.
func (s *DynamoStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	pk := editPK(entry.EditID)

	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		last, err := s.lastSequence(ctx, entry.EditID)
		if err != nil {
			return fmt.Errorf("append history %s: %w", entry.EditID, err)
		}
		entry.Sequence = last + 1

		in, err := s.appendInput(pk, entry, last)
		if err != nil {
			return fmt.Errorf("append history %s: %w", entry.EditID, err)
		}
		_, err = s.client.TransactWriteItems(ctx, in)
		if err == nil {
			log.Debug().
				Str("editId", entry.EditID).
				Int64("sequence", entry.Sequence).
				Str("fingerprint", entry.Fingerprint).
				Int("strength", entry.Strength).
				Msg("Ledger entry appended")
			return nil
		}

		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return fmt.Errorf("append history %s: %w", entry.EditID, err)
		}
		reasons := tce.CancellationReasons
		if len(reasons) > 1 && aws.ToString(reasons[1].Code) == "ConditionalCheckFailed" {
			entry.Sequence = 0
			return fmt.Errorf("append history %s %s@%d: %w", entry.EditID, entry.Fingerprint, entry.Strength, ErrConflict)
		}
		if len(reasons) > 0 && aws.ToString(reasons[0].Code) == "ConditionalCheckFailed" {
			log.Debug().Str("editId", entry.EditID).Int("attempt", attempt+1).Msg("Sequence advanced concurrently, retrying append")
			continue
		}
		return fmt.Errorf("append history %s: %w", entry.EditID, err)
	}
	entry.Sequence = 0
	return fmt.Errorf("append history %s: sequence contention after %d attempts", entry.EditID, maxSequenceRetries)
}

func (s *DynamoStore) appendInput(pk string, entry *HistoryEntry, last int64) (*dynamodb.TransactWriteItemsInput, error) {
	seqItem, err := marshalItem(pk, skSeq, seqRecord{Last: entry.Sequence})
	if err != nil {
		return nil, err
	}
	paramItem, err := marshalItem(pk, paramSK(entry.Fingerprint, entry.Strength), entry)
	if err != nil {
		return nil, err
	}
	histItem, err := marshalItem(pk, historySK(entry.Sequence), entry)
	if err != nil {
		return nil, err
	}

	seqPut := &types.Put{TableName: &s.tableName, Item: seqItem}
	if last == 0 {
		seqPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		seqPut.ConditionExpression = aws.String("#last = :expected")
		seqPut.ExpressionAttributeNames = map[string]string{"#last": "last"}
		seqPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(last, 10)},
		}
	}

	return &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: seqPut},
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                paramItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                histItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	}, nil
}

func (s *DynamoStore) FindHistory(ctx context.Context, editID, fingerprint string, strength int) (*HistoryEntry, error) {
	var entry HistoryEntry
	found, err := s.getItem(ctx, editPK(editID), paramSK(fingerprint, strength), true, &entry)
	if err != nil {
		return nil, fmt.Errorf("find history %s %s@%d: %w", editID, fingerprint, strength, err)
	}
	if !found {
		return nil, nil
	}
	entry.EditID = editID
	return &entry, nil
}

func (s *DynamoStore) GetHistoryEntry(ctx context.Context, editID string, sequence int64) (*HistoryEntry, error) {
	var entry HistoryEntry
	found, err := s.getItem(ctx, editPK(editID), historySK(sequence), true, &entry)
	if err != nil {
		return nil, fmt.Errorf("get history %s#%d: %w", editID, sequence, err)
	}
	if !found {
		return nil, nil
	}
	entry.EditID = editID
	return &entry, nil
}

func (s *DynamoStore) History(ctx context.Context, editID string) ([]*HistoryEntry, error) {
	items, err := s.query(ctx, editPK(editID), skHistory)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", editID, err)
	}
	entries := make([]*HistoryEntry, 0, len(items))
	for _, item := range items {
		var entry HistoryEntry
		if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history %s: %w", editID, err)
		}
		entry.EditID = editID
		entries = append(entries, &entry)
	}
	return entries, nil
}

// --- Suggestions cache ---

func (s *DynamoStore) GetSuggestions(ctx context.Context, imageID string) (*Suggestions, error) {
	var sug Suggestions
	found, err := s.getItem(ctx, imagePK(imageID), skSuggest, false, &sug)
	if err != nil {
		return nil, fmt.Errorf("get suggestions %s: %w", imageID, err)
	}
	if !found {
		return nil, nil
	}
	sug.ImageID = imageID
	return &sug, nil
}

func (s *DynamoStore) PutSuggestions(ctx context.Context, sug *Suggestions) error {
	if sug.CreatedAt == 0 {
		sug.CreatedAt = time.Now().Unix()
	}
	if err := s.putItem(ctx, imagePK(sug.ImageID), skSuggest, sug); err != nil {
		return fmt.Errorf("put suggestions %s: %w", sug.ImageID, err)
	}
	log.Debug().
		Str("imageId", sug.ImageID).
		Int("natural", len(sug.NaturalSuggestions)).
		Int("ai", len(sug.AISuggestions)).
		Msg("Suggestions cached")
	return nil
}

func (s *DynamoStore) DeleteSuggestions(ctx context.Context, imageID string) error {
	if err := s.deleteItem(ctx, imagePK(imageID), skSuggest); err != nil {
		return fmt.Errorf("delete suggestions %s: %w", imageID, err)
	}
	return nil
}
