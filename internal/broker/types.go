package broker

import (
	"context"
	"time"
)

// Delivery is one raw message borrowed from the broker. The consumer owns the
// offset until the handler returns; the payload is opaque at this layer.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// HandlerFunc processes one delivery to a terminal decision. A nil return
// tells the consumer to commit the offset; an error leaves the offset
// uncommitted so the broker redelivers the message.
type HandlerFunc func(ctx context.Context, d Delivery) error

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}
