package interfaces

import "context"

// Ingestor runs one inbound message through the pipeline steps of §4.6:
// parse, annotate, key-extract, history/current store + repair, index
// notify. Permanent failures (malformed payload, missing keys) are
// returned as docmodel's permanent sentinels; temporary I/O failures as
// its temporary sentinels — the Listener uses that distinction to decide
// retry vs. dead-letter (§7).
type Ingestor interface {
	Ingest(ctx context.Context, contentType ContentType, body []byte) error
}
