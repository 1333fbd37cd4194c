// -----------------------------------------------------------------------
// Package ingest implements the Ingestor (§4.6): the strictly-ordered
// pipeline that turns one inbound message into a history record, a
// reconciled current document, and an index push.
// -----------------------------------------------------------------------

package ingest

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/engine/annotate"
	"github.com/argyakrivos/magrathea/internal/engine/identify"
	"github.com/argyakrivos/magrathea/internal/engine/keys"
	"github.com/argyakrivos/magrathea/internal/engine/merge"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// Ingestor wires the engine packages (identify, annotate, keys, merge)
// around the two stores and the index bridge (§4.6).
type Ingestor struct {
	history interfaces.HistoryStore
	current interfaces.CurrentStore
	index   interfaces.IndexBridge
	logger  arbor.ILogger

	volatileSourceFields []string
	bookSchema           string
	contributorSchema    string
}

// New constructs an Ingestor. volatileSourceFields is the history key's
// strip list (config historyKey.volatileFields, §9). bookSchema and
// contributorSchema are stored but not read by Ingest; schema identity
// always comes from the document's own $schema field.
func New(history interfaces.HistoryStore, current interfaces.CurrentStore, index interfaces.IndexBridge, logger arbor.ILogger, volatileSourceFields []string, bookSchema, contributorSchema string) *Ingestor {
	return &Ingestor{
		history:              history,
		current:              current,
		index:                index,
		logger:               logger,
		volatileSourceFields: volatileSourceFields,
		bookSchema:           bookSchema,
		contributorSchema:    contributorSchema,
	}
}

// Ingest runs one message through the pipeline steps of §4.6, in order.
func (i *Ingestor) Ingest(ctx context.Context, contentType interfaces.ContentType, body []byte) error {
	// Step 1: parse.
	raw, err := docmodel.DecodeJSON(body)
	if err != nil {
		return fmt.Errorf("%w: %v", docmodel.ErrMalformedJSON, err)
	}

	if contentType == interfaces.ContentTypeContributor {
		raw = identify.ApplyContributorIDs(raw)
	}

	// Step 2: annotate.
	annotated, err := annotate.Annotate(raw)
	if err != nil {
		return fmt.Errorf("ingest: annotate: %w", err)
	}

	// Step 3: extract keys (from the raw, pre-annotation document — see
	// DESIGN.md "Storage-layer implementation decisions").
	extracted, err := keys.Extract(raw, i.volatileSourceFields)
	if err != nil {
		return fmt.Errorf("ingest: extract keys: %w", err)
	}

	// Step 4: lookup by history key.
	matches, err := i.history.LookupByHistoryKey(ctx, extracted.HistoryKey)
	if err != nil {
		return fmt.Errorf("ingest: lookup history key: %w", err)
	}

	// Step 5: normalize for replace.
	var replaceID string
	var version int
	if len(matches) > 0 {
		replaceID = matches[0].ID
		version = matches[0].Version
	}

	// Step 6: repair I2 — collapse any extra records sharing this history
	// key down to the one being replaced.
	if len(matches) > 1 {
		extraIDs := make([]string, 0, len(matches)-1)
		for _, m := range matches[1:] {
			extraIDs = append(extraIDs, m.ID)
		}
		if err := i.history.DeleteMany(ctx, extraIDs); err != nil {
			return fmt.Errorf("ingest: repair I2: %w", err)
		}
		i.logger.Warn().
			Str("history_key", extracted.HistoryKey).
			Int("extra_records", len(extraIDs)).
			Msg("ingest: repaired duplicate history records (I2)")
	}

	// Step 7: store the annotated doc in HistoryStore.
	if _, _, err := i.history.Store(ctx, extracted.HistoryKey, extracted.CurrentKey, extracted.Schema, annotated, replaceID, version); err != nil {
		return fmt.Errorf("ingest: store history: %w", err)
	}

	// Step 8: fetch every per-source doc for this entity.
	history, err := i.history.FetchByEntity(ctx, extracted.CurrentKey)
	if err != nil {
		return fmt.Errorf("ingest: fetch by entity: %w", err)
	}
	if len(history) == 0 {
		return fmt.Errorf("ingest: %w", docmodel.ErrEmptyHistory)
	}

	// Step 9: merge.
	docs := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		docs = append(docs, h.Doc)
	}
	merged, err := merge.MergeAll(docs)
	if err != nil {
		return fmt.Errorf("ingest: merge: %w", err)
	}

	// Step 10: lookup by current key.
	curMatches, err := i.current.LookupByCurrentKey(ctx, extracted.CurrentKey)
	if err != nil {
		return fmt.Errorf("ingest: lookup current key: %w", err)
	}

	// Step 11: normalize + repair CurrentStore.
	var curReplaceID string
	var curVersion int
	if len(curMatches) > 0 {
		curReplaceID = curMatches[0].ID
		curVersion = curMatches[0].Version
	}
	if len(curMatches) > 1 {
		extraIDs := make([]string, 0, len(curMatches)-1)
		for _, m := range curMatches[1:] {
			extraIDs = append(extraIDs, m.ID)
		}
		if err := i.current.DeleteMany(ctx, extraIDs); err != nil {
			return fmt.Errorf("ingest: repair I3: %w", err)
		}
		i.logger.Warn().
			Str("current_key", extracted.CurrentKey).
			Int("extra_records", len(extraIDs)).
			Msg("ingest: repaired duplicate current records (I3)")
	}

	// Step 12: store the merged doc in CurrentStore.
	entityID, _, err := i.current.Store(ctx, extracted.CurrentKey, extracted.Schema, merged, curReplaceID, curVersion)
	if err != nil {
		return fmt.Errorf("ingest: store current: %w", err)
	}

	// Step 13: notify the index bridge. Fire-and-forget at the pipeline
	// boundary — failure here is logged, not fatal to ingest (§7
	// IndexFailure).
	if err := i.index.Push(ctx, entityID, merged); err != nil {
		i.logger.Warn().
			Err(err).
			Str("entity_id", entityID).
			Str("schema", extracted.Schema).
			Msg("ingest: index push failed, continuing")
	}

	return nil
}
