// -----------------------------------------------------------------------
// Package bus implements the durable message queue (§6 "inbound messages
// arrive tagged with a content-type") and the worker pool that drives
// messages through the Ingestor (§5 "parallel worker pool consuming from
// the bus"). The queue is Badger-backed, adapted from the teacher's
// internal/queue/badger_manager.go FIFO/visibility-timeout shape.
// -----------------------------------------------------------------------

package bus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// queueRecord is the badgerhold-persisted shape of one inbound message.
type queueRecord struct {
	ID          string `badgerhold:"key"`
	ContentType string
	Body        []byte
	Attempts    int
	EnqueuedAt  time.Time
	VisibleAt   time.Time `badgerhold:"index"`
	QueueName   string    `badgerhold:"index"`
}

// deadLetterRecord is a permanently-failed message parked for operator
// inspection (§7 "Permanent failures ... go to a dead-letter sink with
// full context"), surfaced by GET /admin/deadletter.
type deadLetterRecord struct {
	ID          string `badgerhold:"key"`
	ContentType string
	Body        []byte
	Reason      string
	FailedAt    time.Time
}

// Manager implements interfaces.QueueManager over a dedicated BadgerDB.
type Manager struct {
	store      *badgerhold.Store
	queueName  string
	maxReceive int
	logger     arbor.ILogger
}

// NewManager opens the bus's own Badger database (kept separate from the
// history/current stores so queue churn never shares a write path with
// document storage) and wires it into a QueueManager.
func NewManager(logger arbor.ILogger, config *common.BusConfig) (*Manager, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("bus: create queue directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("bus: open queue database: %w", err)
	}

	maxReceive := config.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 5
	}

	return &Manager{
		store:      store,
		queueName:  config.QueueName,
		maxReceive: maxReceive,
		logger:     logger,
	}, nil
}

// Enqueue adds a message to the queue, immediately visible.
func (m *Manager) Enqueue(ctx context.Context, msg interfaces.Message) error {
	now := time.Now()
	id := msg.ID
	if id == "" {
		id = fmt.Sprintf("%019d:%s", now.UnixNano(), uuid.New().String())
	}

	rec := queueRecord{
		ID:          id,
		ContentType: string(msg.ContentType),
		Body:        msg.Body,
		Attempts:    msg.Attempts,
		EnqueuedAt:  now,
		VisibleAt:   now,
		QueueName:   m.queueName,
	}
	if err := m.store.Insert(id, &rec); err != nil {
		return fmt.Errorf("bus: enqueue: %w", err)
	}
	return nil
}

// Receive returns the next visible, under-limit message plus a completion
// function that deletes it (the ack). No message ready yields a nil
// message and nil error — callers poll.
func (m *Manager) Receive(ctx context.Context) (*interfaces.Message, func() error, error) {
	now := time.Now()

	var recs []queueRecord
	err := m.store.Find(&recs, badgerhold.Where("QueueName").Eq(m.queueName).
		And("VisibleAt").Le(now).
		And("Attempts").Lt(m.maxReceive).
		SortBy("ID").
		Limit(1))
	if err != nil {
		return nil, nil, fmt.Errorf("bus: receive: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil, nil
	}

	rec := recs[0]
	msg := &interfaces.Message{
		ID:          rec.ID,
		ContentType: interfaces.ContentType(rec.ContentType),
		Body:        rec.Body,
		Attempts:    rec.Attempts,
		EnqueuedAt:  rec.EnqueuedAt,
	}

	ack := func() error {
		if err := m.store.Delete(rec.ID, &queueRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("bus: ack: %w", err)
		}
		return nil
	}
	return msg, ack, nil
}

// Nack returns msg to the queue, invisible until delay has passed, and
// bumps its attempt count (§5 "Retry discipline").
func (m *Manager) Nack(ctx context.Context, msg interfaces.Message, delay time.Duration) error {
	var rec queueRecord
	if err := m.store.Get(msg.ID, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // already acked/removed; nacking a gone message is a no-op
		}
		return fmt.Errorf("bus: nack: load message: %w", err)
	}
	rec.Attempts++
	rec.VisibleAt = time.Now().Add(delay)
	if err := m.store.Update(msg.ID, &rec); err != nil {
		return fmt.Errorf("bus: nack: update message: %w", err)
	}
	return nil
}

// DeadLetter moves msg out of the live queue into the dead-letter sink
// with full context (§7).
func (m *Manager) DeadLetter(ctx context.Context, msg interfaces.Message, reason string) error {
	dl := deadLetterRecord{
		ID:          msg.ID,
		ContentType: string(msg.ContentType),
		Body:        msg.Body,
		Reason:      reason,
		FailedAt:    time.Now(),
	}
	if err := m.store.Upsert(msg.ID, &dl); err != nil {
		return fmt.Errorf("bus: dead-letter: insert: %w", err)
	}
	if err := m.store.Delete(msg.ID, &queueRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("bus: dead-letter: remove from queue: %w", err)
	}
	m.logger.Warn().Str("message_id", msg.ID).Str("reason", reason).Msg("bus: message dead-lettered")
	return nil
}

// DeadLettered lists every parked message, for GET /admin/deadletter.
func (m *Manager) DeadLettered(ctx context.Context) ([]interfaces.Message, error) {
	var recs []deadLetterRecord
	if err := m.store.Find(&recs, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("bus: list dead-lettered: %w", err)
	}
	out := make([]interfaces.Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, interfaces.Message{
			ID:          rec.ID,
			ContentType: interfaces.ContentType(rec.ContentType),
			Body:        rec.Body,
			EnqueuedAt:  rec.FailedAt,
		})
	}
	return out, nil
}

// Close closes the queue's Badger database.
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
