// Package testutil provides in-memory fakes of the AWS clients used by the
// queue, worker and Lambda packages.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsMessage struct {
	id   string
	body string
}

// FakeSQS is a single in-memory queue. Received messages stay in flight
// until deleted; they never become visible again.
type FakeSQS struct {
	mu       sync.Mutex
	visible  []sqsMessage
	inFlight map[string]sqsMessage
	seq      int

	SendErr    error
	ReceiveErr error
	// FailBatchIDs makes SendMessageBatch report these entry ids as failed.
	FailBatchIDs map[string]bool

	BatchCalls  int
	Receives    int
	DeletedIDs  []string
	LastReceive *sqs.ReceiveMessageInput
}

// NewFakeSQS creates an empty queue.
func NewFakeSQS() *FakeSQS {
	return &FakeSQS{inFlight: map[string]sqsMessage{}}
}

// Push adds a raw body, bypassing SendMessage.
func (f *FakeSQS) Push(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.push(body)
}

func (f *FakeSQS) push(body string) {
	f.seq++
	f.visible = append(f.visible, sqsMessage{id: "msg-" + strconv.Itoa(f.seq), body: body})
}

// Bodies returns the bodies of the visible messages in queue order.
func (f *FakeSQS) Bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.visible))
	for i, m := range f.visible {
		out[i] = m.body
	}
	return out
}

// InFlight returns how many messages were received but not deleted.
func (f *FakeSQS) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inFlight)
}

func (f *FakeSQS) SendMessage(_ context.Context, input *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	f.push(aws.ToString(input.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-" + strconv.Itoa(f.seq))}, nil
}

func (f *FakeSQS) SendMessageBatch(_ context.Context, input *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BatchCalls++
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	if len(input.Entries) > 10 {
		return nil, errors.New("TooManyEntriesInBatchRequest")
	}
	out := &sqs.SendMessageBatchOutput{}
	for _, e := range input.Entries {
		id := aws.ToString(e.Id)
		if f.FailBatchIDs[id] {
			out.Failed = append(out.Failed, sqstypes.BatchResultErrorEntry{
				Id: e.Id, Code: aws.String("InternalError"), Message: aws.String("try again"),
			})
			continue
		}
		f.push(aws.ToString(e.MessageBody))
		out.Successful = append(out.Successful, sqstypes.SendMessageBatchResultEntry{Id: e.Id})
	}
	return out, nil
}

func (f *FakeSQS) ReceiveMessage(_ context.Context, input *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Receives++
	f.LastReceive = input
	if f.ReceiveErr != nil {
		return nil, f.ReceiveErr
	}
	limit := int(input.MaxNumberOfMessages)
	if limit <= 0 {
		limit = 1
	}
	out := &sqs.ReceiveMessageOutput{}
	for len(out.Messages) < limit && len(f.visible) > 0 {
		m := f.visible[0]
		f.visible = f.visible[1:]
		receipt := "receipt-" + m.id
		f.inFlight[receipt] = m
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String(m.id),
			ReceiptHandle: aws.String(receipt),
			Body:          aws.String(m.body),
		})
	}
	return out, nil
}

func (f *FakeSQS) DeleteMessage(_ context.Context, input *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt := aws.ToString(input.ReceiptHandle)
	m, ok := f.inFlight[receipt]
	if !ok {
		return nil, fmt.Errorf("ReceiptHandleIsInvalid: %s", receipt)
	}
	delete(f.inFlight, receipt)
	f.DeletedIDs = append(f.DeletedIDs, m.id)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *FakeSQS) GetQueueAttributes(_ context.Context, _ *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
		string(sqstypes.QueueAttributeNameApproximateNumberOfMessages):           strconv.Itoa(len(f.visible)),
		string(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible): strconv.Itoa(len(f.inFlight)),
	}}, nil
}
