package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fbahunter/internal/kv"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"
)

type listingDocument struct {
	Listing  model.MarketplaceListing `json:"listing"`
	CachedAt time.Time                `json:"cached_at"`
}

func (d *listingDocument) validate() error {
	if d.Listing.CatalogID == "" {
		return errors.New("listing without catalog_id")
	}
	return nil
}

// MarketplaceCache 缓存平台商品详情，键为 catalog id。
//
// 内存层在进程内去重重复读取，持久层按 TTL 判定新鲜度。
type MarketplaceCache struct {
	kv     kv.Store
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu  sync.RWMutex
	mem map[string]listingDocument
}

// NewMarketplaceCache 创建平台商品缓存。ttl<=0 表示永不过期。
func NewMarketplaceCache(s kv.Store, ttl time.Duration, logger *slog.Logger) *MarketplaceCache {
	return &MarketplaceCache{
		kv:     s,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		mem:    map[string]listingDocument{},
	}
}

func listingKey(catalogID string) string {
	return "marketplace/" + kv.SafeSegment(catalogID)
}

func (c *MarketplaceCache) fresh(doc listingDocument) bool {
	return c.ttl <= 0 || c.now().Sub(doc.CachedAt) <= c.ttl
}

// Get 返回未过期的缓存详情。过期或不存在时 ok=false。
func (c *MarketplaceCache) Get(ctx context.Context, catalogID string) (model.MarketplaceListing, bool, error) {
	if catalogID == "" {
		return model.MarketplaceListing{}, false, nil
	}
	c.mu.RLock()
	doc, ok := c.mem[catalogID]
	c.mu.RUnlock()

	if !ok {
		loaded := listingDocument{}
		found, err := loadDocument(ctx, c.kv, c.logger, listingKey(catalogID), &loaded, loaded.validate)
		if err != nil && !errors.Is(err, model.ErrStateCorruption) {
			return model.MarketplaceListing{}, false, fmt.Errorf("load listing %s: %w", catalogID, err)
		}
		if found {
			doc, ok = loaded, true
			c.mu.Lock()
			c.mem[catalogID] = doc
			c.mu.Unlock()
		}
	}

	if !ok || !c.fresh(doc) {
		metrics.CacheLookupsTotal.WithLabelValues("marketplace", "miss").Inc()
		return model.MarketplaceListing{}, false, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("marketplace", "hit").Inc()
	return doc.Listing, true, nil
}

// Put 写入（覆盖）一条详情。
func (c *MarketplaceCache) Put(ctx context.Context, listing model.MarketplaceListing) error {
	if listing.CatalogID == "" {
		return errors.New("put listing: empty catalog id")
	}
	doc := listingDocument{Listing: listing, CachedAt: c.now()}
	if err := saveDocument(ctx, c.kv, listingKey(listing.CatalogID), doc); err != nil {
		return fmt.Errorf("save listing %s: %w", listing.CatalogID, err)
	}
	c.mu.Lock()
	c.mem[listing.CatalogID] = doc
	c.mu.Unlock()
	return nil
}

// Invalidate 删除一条详情缓存。
func (c *MarketplaceCache) Invalidate(ctx context.Context, catalogID string) error {
	c.mu.Lock()
	delete(c.mem, catalogID)
	c.mu.Unlock()
	if err := c.kv.Delete(ctx, listingKey(catalogID)); err != nil {
		return fmt.Errorf("invalidate listing %s: %w", catalogID, err)
	}
	return nil
}
