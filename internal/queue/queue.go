// Package queue carries check and action invocations over SQS.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/oklog/ulid/v2"

	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// maxBatch is the SQS SendMessageBatch entry limit.
const maxBatch = 10

// ErrMalformed marks a received message whose body is not a valid invocation.
var ErrMalformed = errors.New("malformed queue message")

// SQSAPI is the subset of the SQS client used by Queue.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, input *sqs.SendMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, input *sqs.GetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Message is the body of one queued invocation.
type Message struct {
	Check    string       `json:"check"`
	Kwargs   types.Kwargs `json:"kwargs"`
	RunID    string       `json:"run_id"`
	QueuedAt string       `json:"queued_at,omitempty"`
}

// Entry is one invocation of a batch.
type Entry struct {
	CheckString string
	Kwargs      types.Kwargs
}

// Received is a dequeued message with its receipt handle.
type Received struct {
	Message
	MessageID string
	Receipt   string
	Body      string
}

// RunInfo returns the provenance the worker stamps into kwargs.
func (r *Received) RunInfo() types.RunInfo {
	return types.RunInfo{RunID: r.RunID, Receipt: r.Receipt, QueuedAt: r.QueuedAt}
}

// Queue sends and receives invocations on one SQS queue.
type Queue struct {
	client            SQSAPI
	url               string
	visibilityTimeout int32
	now               func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClient sets a custom SQS client.
func WithClient(c SQSAPI) Option {
	return func(q *Queue) { q.client = c }
}

// New creates a Queue for cfg.URL.
func New(ctx context.Context, cfg *types.QueueConfig, opts ...Option) (*Queue, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue URL required")
	}
	q := &Queue{url: cfg.URL, visibilityTimeout: cfg.VisibilityTimeout, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	if q.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		q.client = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}
	return q, nil
}

// URL returns the queue URL.
func (q *Queue) URL() string { return q.url }

// Enqueue queues one invocation and returns the run uuid the stored result
// will carry. A uuid already present in kwargs is kept.
func (q *Queue) Enqueue(ctx context.Context, checkString string, kwargs types.Kwargs) (string, error) {
	msg := q.message(checkString, kwargs, "")
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding %s message: %w", checkString, err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("sending %s: %w", checkString, err)
	}
	return msg.Kwargs.UUID(), nil
}

// EnqueueBatch queues entries as one scheduled group. Every entry without
// its own uuid shares one, so the group's results line up in history.
func (q *Queue) EnqueueBatch(ctx context.Context, entries []Entry) (string, error) {
	runUUID := result.NewUUID(q.now())
	for start := 0; start < len(entries); start += maxBatch {
		end := start + maxBatch
		if end > len(entries) {
			end = len(entries)
		}
		batch := make([]sqstypes.SendMessageBatchRequestEntry, 0, end-start)
		for i, e := range entries[start:end] {
			body, err := json.Marshal(q.message(e.CheckString, e.Kwargs, runUUID))
			if err != nil {
				return "", fmt.Errorf("encoding %s message: %w", e.CheckString, err)
			}
			batch = append(batch, sqstypes.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(start + i)),
				MessageBody: aws.String(string(body)),
			})
		}
		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.url),
			Entries:  batch,
		})
		if err != nil {
			return "", fmt.Errorf("sending batch of %d: %w", len(batch), err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return "", fmt.Errorf("%d of %d messages not queued, first: %s %s",
				len(out.Failed), len(batch), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return runUUID, nil
}

func (q *Queue) message(checkString string, kwargs types.Kwargs, runUUID string) Message {
	kw := kwargs.Clone()
	if kw.UUID() == "" {
		if runUUID == "" {
			runUUID = result.NewUUID(q.now())
		}
		kw[types.KwargUUID] = runUUID
	}
	return Message{
		Check:    checkString,
		Kwargs:   kw,
		RunID:    ulid.Make().String(),
		QueuedAt: q.now().UTC().Format(time.RFC3339),
	}
}

// Receive waits up to waitSeconds for one message. It returns (nil, nil)
// when the queue is empty. A message that does not decode is returned along
// with an error wrapping ErrMalformed so the caller can delete it.
func (q *Queue) Receive(ctx context.Context, waitSeconds int32) (*Received, error) {
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
	}
	if q.visibilityTimeout > 0 {
		in.VisibilityTimeout = q.visibilityTimeout
	}
	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("receiving from queue: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	rec := &Received{
		MessageID: aws.ToString(m.MessageId),
		Receipt:   aws.ToString(m.ReceiptHandle),
		Body:      aws.ToString(m.Body),
	}
	if err := json.Unmarshal([]byte(rec.Body), &rec.Message); err != nil {
		return rec, fmt.Errorf("%w %s: %v", ErrMalformed, rec.MessageID, err)
	}
	if rec.Check == "" {
		return rec, fmt.Errorf("%w %s: no check", ErrMalformed, rec.MessageID)
	}
	return rec, nil
}

// Delete removes a received message.
func (q *Queue) Delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// Counts returns the approximate number of waiting and in-flight messages.
func (q *Queue) Counts(ctx context.Context) (waiting, inFlight int, err error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reading queue attributes: %w", err)
	}
	waiting, _ = strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)])
	inFlight, _ = strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	return waiting, inFlight, nil
}
