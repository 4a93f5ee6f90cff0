package evidence

import (
	"context"

	"github.com/conviction-engine/pkg/token"
)

// PutSnapshot stores the most recent snapshot for a token.
func (c *Cache) PutSnapshot(snap *token.Snapshot) {
	if snap == nil || c.cfg.IsIgnored(snap.Mint) {
		return
	}
	sh := c.shardFor(snap.Mint)
	sh.mu.Lock()
	sh.get(snap.Mint).snapshot = snap
	sh.mu.Unlock()
}

// GetSnapshot returns the cached snapshot, nil if none.
func (c *Cache) GetSnapshot(m token.Mint) *token.Snapshot {
	sh := c.shardFor(m)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if te, ok := sh.tokens[m]; ok {
		return te.snapshot
	}
	return nil
}

// FetchFunc pulls a fresh snapshot from the providers.
type FetchFunc func(ctx context.Context, m token.Mint, includeHolders bool) (*token.Snapshot, error)

// GetOrFetch returns the cached snapshot when younger than the freshness
// budget, otherwise runs fetch and caches the result. A cached snapshot
// without holder data does not satisfy a caller that wants holders.
func (c *Cache) GetOrFetch(ctx context.Context, m token.Mint, includeHolders bool, fetch FetchFunc) (*token.Snapshot, error) {
	if snap := c.GetSnapshot(m); snap != nil && snap.FreshWithin(c.cfg.SnapshotFreshness) {
		if !includeHolders || snap.HoldersKnown {
			return snap, nil
		}
	}

	snap, err := fetch(ctx, m, includeHolders)
	if err != nil {
		return nil, err
	}
	c.PutSnapshot(snap)
	return snap, nil
}
