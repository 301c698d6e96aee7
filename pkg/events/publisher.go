package events

import "context"

// Publisher publishes RPC call events.
type Publisher interface {
	PublishCalled(ctx context.Context, event *RPCCallEvent) error
}

// NoOpPublisher is a Publisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishCalled is a no-op.
func (p *NoOpPublisher) PublishCalled(_ context.Context, _ *RPCCallEvent) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *RPCCallEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *RPCCallEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishCalled calls the callback.
func (p *CallbackPublisher) PublishCalled(ctx context.Context, event *RPCCallEvent) error {
	return p.callback(ctx, event)
}
