package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/kislikjeka/festpay/pkg/logger"
)

// Store persists the cached catalog
type Store interface {
	LoadCatalog(ctx context.Context) (*Snapshot, bool, error)
	SaveCatalog(ctx context.Context, s *Snapshot) error
}

// Source fetches the current catalog from the ledger
type Source interface {
	FetchCatalog(ctx context.Context) (*Snapshot, error)
}

// Cache serves stand and product lookups from the locally cached snapshot
type Cache struct {
	store  Store
	logger *logger.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewCache creates a catalog cache
func NewCache(store Store, log *logger.Logger) *Cache {
	return &Cache{store: store, logger: log.Component("catalog")}
}

// Load reads the cached snapshot from the store. A missing catalog is not an error.
func (c *Cache) Load(ctx context.Context) error {
	s, ok, err := c.store.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return nil
}

// Snapshot returns the current snapshot, or nil when none is cached
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// StandName resolves a stand name
func (c *Cache) StandName(_ context.Context, standID string) (string, bool, error) {
	s := c.Snapshot()
	if s == nil {
		return "", false, nil
	}
	stand, ok := s.Stand(standID)
	return stand.Name, ok, nil
}

// Refresh fetches the catalog and stores it when the digest changed.
// It reports whether the cached catalog was replaced.
func (c *Cache) Refresh(ctx context.Context, src Source) (bool, error) {
	fresh, err := src.FetchCatalog(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	if cur := c.Snapshot(); cur != nil && cur.Digest == fresh.Digest {
		c.logger.Debug("catalog unchanged", "digest", fresh.Digest)
		return false, nil
	}

	if err := c.store.SaveCatalog(ctx, fresh); err != nil {
		return false, fmt.Errorf("failed to save catalog: %w", err)
	}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()

	c.logger.Info("catalog updated",
		"digest", fresh.Digest,
		"stands", len(fresh.Stands),
		"products", len(fresh.Products),
	)
	return true, nil
}
