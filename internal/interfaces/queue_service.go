package interfaces

import (
	"context"
	"time"
)

// ContentType discriminates book vs contributor payloads on the bus (§6
// "Inbound messages arrive tagged with a content-type").
type ContentType string

const (
	ContentTypeBook        ContentType = "application/vnd.magrathea.book+json"
	ContentTypeContributor ContentType = "application/vnd.magrathea.contributor+json"
)

// Message is one inbound envelope: a content-type tag plus the raw
// document body (§6).
type Message struct {
	ID          string
	ContentType ContentType
	Body        []byte
	Attempts    int
	EnqueuedAt  time.Time
}

// QueueManager is the durable bus stand-in: a prefetch-bounded, ack-based
// queue consumers poll (§6 "prefetch window bounds in-flight messages").
type QueueManager interface {
	Enqueue(ctx context.Context, msg Message) error

	// Receive pulls the next ready message and a completion function;
	// calling it acknowledges (removes) the message. Returns a nil
	// message if none are ready yet.
	Receive(ctx context.Context) (*Message, func() error, error)

	// Nack returns msg to the queue for retry after delay (§5 "Retry
	// discipline").
	Nack(ctx context.Context, msg Message, delay time.Duration) error

	// DeadLetter routes a permanently-failed message to the dead-letter
	// sink with context (§7).
	DeadLetter(ctx context.Context, msg Message, reason string) error

	// DeadLettered lists every parked message, for the supplemented
	// GET /admin/deadletter operator view.
	DeadLettered(ctx context.Context) ([]Message, error)

	Close() error
}

// Listener drives a worker pool consuming from a QueueManager and
// dispatching each message to the Ingestor (§5 "Parallel worker pool
// consuming from the bus").
type Listener interface {
	Start(ctx context.Context) error
	Stop() error
}
