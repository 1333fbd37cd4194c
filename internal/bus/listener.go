package bus

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// Listener drives a worker pool consuming from a QueueManager and
// dispatching each message to the Ingestor (§5 "Parallel worker pool
// consuming from the bus"), mirroring the teacher's worker.go
// ticker-per-worker / stagger-start shape.
type Listener struct {
	queue    interfaces.QueueManager
	ingestor interfaces.Ingestor
	logger   arbor.ILogger

	prefetch             int
	pollInterval         time.Duration
	actorTimeout         time.Duration
	initialRetryInterval time.Duration
	maxRetryInterval     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewListener builds a Listener over queue, dispatching to ingestor.
func NewListener(queue interfaces.QueueManager, ingestor interfaces.Ingestor, logger arbor.ILogger, listenerCfg *common.ListenerConfig, busCfg *common.BusConfig) *Listener {
	prefetch := listenerCfg.Input.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	pollInterval := listenerCfg.RetryInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Listener{
		queue:                queue,
		ingestor:             ingestor,
		logger:               logger,
		prefetch:             prefetch,
		pollInterval:         pollInterval,
		actorTimeout:         listenerCfg.ActorTimeout,
		initialRetryInterval: busCfg.InitialRetryInterval,
		maxRetryInterval:     busCfg.MaxRetryInterval,
	}
}

// Start launches prefetch worker goroutines, staggered across the poll
// interval the way the teacher spreads workers to reduce store contention.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	for id := 0; id < l.prefetch; id++ {
		go l.worker(id)
	}

	l.logger.Info().Int("workers", l.prefetch).Msg("bus: listener started")
	return nil
}

// Stop cancels every worker's context and returns without waiting. The
// context of an in-flight Ingest call derives from it and is cancelled too.
func (l *Listener) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.logger.Info().Msg("bus: listener stopped")
	return nil
}

func (l *Listener) worker(workerID int) {
	staggerDelay := l.pollInterval / time.Duration(max(l.prefetch, 1)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.processOne(workerID)
		}
	}
}

func (l *Listener) processOne(workerID int) {
	msg, ack, err := l.queue.Receive(l.ctx)
	if err != nil {
		l.logger.Warn().Err(err).Int("worker_id", workerID).Msg("bus: receive failed")
		return
	}
	if msg == nil {
		return // queue empty, nothing to do this tick
	}

	actorCtx, cancel := context.WithTimeout(l.ctx, l.actorTimeout)
	defer cancel()

	ingestErr := l.ingestor.Ingest(actorCtx, msg.ContentType, msg.Body)
	if ingestErr == nil {
		if err := ack(); err != nil {
			l.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("bus: ack failed after successful ingest")
		}
		return
	}

	if docmodel.IsPermanent(ingestErr) {
		if err := l.queue.DeadLetter(l.ctx, *msg, ingestErr.Error()); err != nil {
			l.logger.Error().Err(err).Str("message_id", msg.ID).Msg("bus: dead-letter failed")
		}
		return
	}

	// Temporary failure (or an unclassified error — treated the same way,
	// since retrying is always safe): nack with bounded exponential backoff
	// keyed on the message's attempt count (§5 "Retry discipline").
	delay := l.backoffFor(msg.Attempts)
	if err := l.queue.Nack(l.ctx, *msg, delay); err != nil {
		l.logger.Error().Err(err).Str("message_id", msg.ID).Msg("bus: nack failed")
	}
	l.logger.Warn().
		Err(ingestErr).
		Str("message_id", msg.ID).
		Dur("retry_delay", delay).
		Int("attempts", msg.Attempts+1).
		Msg("bus: message failed, retrying")
}

func (l *Listener) backoffFor(attempts int) time.Duration {
	delay := l.initialRetryInterval
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= l.maxRetryInterval {
			return l.maxRetryInterval
		}
	}
	return delay
}
