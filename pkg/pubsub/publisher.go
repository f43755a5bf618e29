package pubsub

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher sends one message. Publish does not block; the returned Result
// resolves once the server acknowledges or rejects the message.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) Result
}

type Result interface {
	Get(ctx context.Context) (serverID string, err error)
}

type orderedPublisher struct {
	pub *gcppubsub.Publisher
}

func (p orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) Result {
	return orderedResult{
		res: p.pub.Publish(ctx, msg),
		pub: p.pub,
		key: msg.OrderingKey,
	}
}

// orderedResult resumes the ordering key after a failure. The client pauses
// a key on error and rejects later messages for it until resumed.
type orderedResult struct {
	res *gcppubsub.PublishResult
	pub *gcppubsub.Publisher
	key string
}

func (r orderedResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.pub.ResumePublish(r.key)
	}
	return id, err
}
