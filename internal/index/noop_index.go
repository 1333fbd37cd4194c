package index

import "context"

// DisabledIndex is the no-op IndexBridge used when config.Index.Disabled is
// set (§4.8), mirroring the teacher's disabled_search_service.go shape:
// every operation succeeds trivially and Search always reports an empty,
// final page so callers don't need to branch on whether indexing is on.
type DisabledIndex struct{}

// NewDisabledIndex constructs the no-op index bridge.
func NewDisabledIndex() *DisabledIndex { return &DisabledIndex{} }

func (DisabledIndex) Push(ctx context.Context, entityID string, doc map[string]interface{}) error {
	return nil
}

func (DisabledIndex) Remove(ctx context.Context, entityID string) error { return nil }

func (DisabledIndex) Search(ctx context.Context, query string, offset, count int) ([]string, bool, error) {
	return nil, true, nil
}

func (DisabledIndex) ReIndexCurrent(ctx context.Context) error { return nil }

func (DisabledIndex) ReIndexHistory(ctx context.Context) error { return nil }

func (DisabledIndex) Close() error { return nil }
