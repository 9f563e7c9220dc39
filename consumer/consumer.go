package consumer

import "context"

// Sink receives every decoded message together with the requested
// transport properties. With more than one worker Deliver is called
// concurrently and in no particular order.
type Sink interface {
	Deliver(ctx context.Context, payload Payload, properties map[string]string)
}

type SinkFunc func(ctx context.Context, payload Payload, properties map[string]string)

func (f SinkFunc) Deliver(ctx context.Context, payload Payload, properties map[string]string) {
	f(ctx, payload, properties)
}

// Supervisor owns the source and decides what to do when the connection
// is lost, typically calling Reconnect or recreating the source.
type Supervisor interface {
	OnConnectionUnavailable(cause error)
	OnConnectionRestored()
}
