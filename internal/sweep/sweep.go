// -----------------------------------------------------------------------
// Package sweep implements the periodic repair job §5 allows ("an
// external periodic sweep (out of scope) may also repair"): it re-walks
// every current entity's history set and re-merges, catching the lost
// update the pipeline's cross-message concurrency note tolerates.
// Scheduled with robfig/cron, mirroring the teacher's
// internal/services/scheduler package's cron wiring and panic-recovery
// idiom.
// -----------------------------------------------------------------------

package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/engine/keys"
	"github.com/argyakrivos/magrathea/internal/engine/merge"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

func equalDocs(a, b map[string]interface{}) (bool, error) {
	return docmodel.Equal(a, b)
}

// Service implements interfaces.SchedulerService over robfig/cron,
// re-deriving each current document from its history set on each tick.
// Duplicate history or current records (I2/I3) are not removed here.
type Service struct {
	history interfaces.HistoryStore
	current interfaces.CurrentStore
	index   interfaces.IndexBridge
	logger  arbor.ILogger

	chunkSize int

	cron      *cron.Cron
	entryID   cron.EntryID
	runMu     sync.Mutex // serializes sweep runs against manual triggers
	running   bool
}

// New builds the repair sweep service.
func New(history interfaces.HistoryStore, current interfaces.CurrentStore, index interfaces.IndexBridge, logger arbor.ILogger, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Service{
		history:   history,
		current:   current,
		index:     index,
		logger:    logger,
		chunkSize: chunkSize,
		cron:      cron.New(cron.WithSeconds()),
	}
}

// Start registers the sweep on cronExpr and starts the scheduler.
func (s *Service) Start(cronExpr string) error {
	if s.running {
		return fmt.Errorf("sweep: already running")
	}
	if cronExpr == "" {
		cronExpr = "0 */15 * * * *"
	}

	entryID, err := s.cron.AddFunc(cronExpr, s.runGuarded)
	if err != nil {
		return fmt.Errorf("sweep: register cron schedule %q: %w", cronExpr, err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", cronExpr).Msg("sweep: repair scheduler started")
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("sweep: repair scheduler stopped")
	return nil
}

// TriggerNow runs one sweep immediately, out of band from the schedule.
func (s *Service) TriggerNow() error {
	common.SafeGo(s.logger, "sweep-trigger", s.runGuarded)
	return nil
}

// IsRunning reports whether the cron scheduler is active.
func (s *Service) IsRunning() bool {
	return s.running
}

func (s *Service) runGuarded() {
	if !s.runMu.TryLock() {
		s.logger.Debug().Msg("sweep: previous run still in progress, skipping this tick")
		return
	}
	defer s.runMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("sweep: recovered from panic during repair run")
		}
	}()

	start := time.Now()
	repaired, scanned, err := s.run(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("sweep: repair run failed")
		return
	}
	s.logger.Info().
		Int("entities_scanned", scanned).
		Int("entities_repaired", repaired).
		Dur("duration", time.Since(start)).
		Msg("sweep: repair run completed")
}

// run re-derives the current document for every entity from its history
// set (§5's tolerated-lost-update repair) and re-stores it when it
// differs from what's currently held.
func (s *Service) run(ctx context.Context) (repaired, scanned int, err error) {
	err = s.current.ReIndexChunks(ctx, s.chunkSize, func(chunk []interfaces.StoredDoc) error {
		for _, entity := range chunk {
			scanned++
			changed, repairErr := s.repairEntity(ctx, entity)
			if repairErr != nil {
				s.logger.Warn().Err(repairErr).Str("entity_id", entity.ID).Msg("sweep: repair failed for entity")
				continue
			}
			if changed {
				repaired++
			}
		}
		return nil
	})
	return repaired, scanned, err
}

func (s *Service) repairEntity(ctx context.Context, entity interfaces.StoredDoc) (bool, error) {
	schema, _, currentKey, err := keys.CurrentKeyFromAnnotated(entity.Doc)
	if err != nil {
		return false, fmt.Errorf("derive current key: %w", err)
	}

	history, err := s.history.FetchByEntity(ctx, currentKey)
	if err != nil {
		return false, fmt.Errorf("fetch history: %w", err)
	}
	if len(history) == 0 {
		return false, nil // nothing to re-merge from; leave current as-is
	}

	docs := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		docs = append(docs, h.Doc)
	}
	merged, err := merge.MergeAll(docs)
	if err != nil {
		return false, fmt.Errorf("re-merge: %w", err)
	}

	equal, err := equalDocs(merged, entity.Doc)
	if err != nil {
		return false, fmt.Errorf("compare: %w", err)
	}
	if equal {
		return false, nil
	}

	if _, _, err := s.current.Store(ctx, currentKey, schema, merged, entity.ID, entity.Version); err != nil {
		return false, fmt.Errorf("store repaired current doc: %w", err)
	}
	if err := s.index.Push(ctx, entity.ID, merged); err != nil {
		s.logger.Warn().Err(err).Str("entity_id", entity.ID).Msg("sweep: index push failed after repair")
	}
	return true, nil
}
