package lambda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

const (
	eventSource     = "foursight"
	runCompleteType = "Foursight Run Completed"
)

// EventBridgeAPI is the subset of the EventBridge client used for run events.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventPublisher puts one event on the bus per finished run.
type EventPublisher struct {
	client  EventBridgeAPI
	busName string
}

// NewEventPublisher creates a publisher for busName.
func NewEventPublisher(client EventBridgeAPI, busName string) (*EventPublisher, error) {
	if busName == "" {
		return nil, fmt.Errorf("event bus name required")
	}
	return &EventPublisher{client: client, busName: busName}, nil
}

// PublishRunEvent sends ev as a "Foursight Run Completed" event.
func (p *EventPublisher) PublishRunEvent(ctx context.Context, ev types.RunEvent) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(runCompleteType),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return fmt.Errorf("publish run event for %s: %w", ev.Name, err)
	}
	if out != nil && out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		return fmt.Errorf("publish run event for %s: %s", ev.Name, aws.ToString(out.Entries[0].ErrorMessage))
	}
	return nil
}
