// Package events publishes edit-attempt outcomes to Amazon EventBridge so
// downstream consumers (web push, analytics) can react without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/store"
)

// Source and DetailType identify the events on the bus.
const (
	Source                    = "ai-photo-editor"
	DetailTypeAttemptFinished = "EditAttemptFinished"
)

// AttemptFinished describes the terminal write of one attempt.
type AttemptFinished struct {
	EditID     string       `json:"editId"`
	AttemptID  string       `json:"attemptId"`
	Kind       store.Kind   `json:"kind"`
	Status     store.Status `json:"status"`
	ImageID    string       `json:"imageId,omitempty"`
	Strength   int          `json:"strength"`
	CacheHit   bool         `json:"cacheHit"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"durationMs"`
	FinishedAt int64        `json:"finishedAt"`
}

type putEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeNotifier puts one event per finished attempt on a bus.
type EventBridgeNotifier struct {
	client  putEventsAPI
	busName string
}

// NewEventBridgeNotifier publishes to busName ("" means the default bus).
func NewEventBridgeNotifier(client *eventbridge.Client, busName string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, busName: busName}
}

// Notify publishes ev. A rejected entry is reported as an error.
func (n *EventBridgeNotifier) Notify(ctx context.Context, ev AttemptFinished) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", DetailTypeAttemptFinished, err)
	}
	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeAttemptFinished),
		Detail:     aws.String(string(detail)),
	}
	if n.busName != "" {
		entry.EventBusName = aws.String(n.busName)
	}

	result, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().
		Str("editId", ev.EditID).
		Str("attemptId", ev.AttemptID).
		Str("status", string(ev.Status)).
		Msg("Attempt outcome published to EventBridge")
	return nil
}
