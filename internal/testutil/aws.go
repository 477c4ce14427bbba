package testutil

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// FakeLambda records Invoke calls.
type FakeLambda struct {
	mu      sync.Mutex
	Err     error
	Invokes []*lambda.InvokeInput
}

func (f *FakeLambda) Invoke(_ context.Context, input *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Invokes = append(f.Invokes, input)
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}

// Calls returns how many invocations were recorded.
func (f *FakeLambda) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Invokes)
}

// FakeEventBridge records PutEvents entries.
type FakeEventBridge struct {
	mu      sync.Mutex
	Err     error
	Entries []ebtypes.PutEventsRequestEntry
}

func (f *FakeEventBridge) PutEvents(_ context.Context, input *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Entries = append(f.Entries, input.Entries...)
	return &eventbridge.PutEventsOutput{}, nil
}

// Events returns a copy of the recorded entries.
func (f *FakeEventBridge) Events() []ebtypes.PutEventsRequestEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ebtypes.PutEventsRequestEntry(nil), f.Entries...)
}
