package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"fbahunter/internal/kv"
	"fbahunter/internal/model"
)

type supplierDocument struct {
	Supplier  string                  `json:"supplier"`
	LastWrite time.Time               `json:"last_write"`
	Products  []model.SupplierProduct `json:"products"`
}

func (d *supplierDocument) validate() error {
	seen := make(map[string]struct{}, len(d.Products))
	for i, p := range d.Products {
		if p.URL == "" {
			return fmt.Errorf("product %d has no url", i)
		}
		k := p.Key()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate supplier key %s", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// SupplierCache 是单个供应商已抽取商品的去重集合。
//
// 同一个键只保留一条记录，后写入覆盖先写入；保留首次插入的顺序。
type SupplierCache struct {
	kv       kv.Store
	logger   *slog.Logger
	supplier string
	now      func() time.Time

	mu        sync.RWMutex
	products  []model.SupplierProduct
	byKey     map[string]int
	byURL     map[string]int
	lastWrite time.Time
	dirty     bool
}

// NewSupplierCache 创建供应商缓存，需调用 Load 读入已有数据。
func NewSupplierCache(s kv.Store, supplier string, logger *slog.Logger) *SupplierCache {
	return &SupplierCache{
		kv:       s,
		logger:   logger,
		supplier: supplier,
		now:      time.Now,
		byKey:    map[string]int{},
		byURL:    map[string]int{},
	}
}

func supplierKey(supplier string) string {
	return "supplier/" + kv.SafeSegment(supplier)
}

// Load 读入缓存。文档损坏时丢弃并从空集合开始。
func (c *SupplierCache) Load(ctx context.Context) error {
	doc := &supplierDocument{}
	found, err := loadDocument(ctx, c.kv, c.logger, supplierKey(c.supplier), doc, doc.validate)
	if err != nil && !errors.Is(err, model.ErrStateCorruption) {
		return fmt.Errorf("load supplier cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = nil
	c.lastWrite = time.Time{}
	if found {
		c.products = doc.Products
		c.lastWrite = doc.LastWrite
	}
	c.reindex()
	c.dirty = false
	return nil
}

func (c *SupplierCache) reindex() {
	c.byKey = make(map[string]int, len(c.products))
	c.byURL = make(map[string]int, len(c.products))
	for i, p := range c.products {
		c.byKey[p.Key()] = i
		c.byURL[model.NormalizeURL(p.URL)] = i
	}
}

// Upsert 合并一条商品记录，返回记录是否发生了变化。
//
// 同键冲突时价格、库存等字段以新记录为准，scraped_at 保留首次抽取的时间，
// updated_at 取本次抽取的时间。
// 新记录带标识码而旧记录只有 URL 时，旧记录被替换为按标识码索引；
// 新记录缺少标识码但 URL 已知时，沿用已知的标识码。
func (c *SupplierCache) Upsert(p model.SupplierProduct) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.ScrapedAt
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = c.now()
	}
	normURL := model.NormalizeURL(p.URL)
	if p.IdentifierCode == "" {
		if i, ok := c.byURL[normURL]; ok {
			p.IdentifierCode = c.products[i].IdentifierCode
		}
	}
	key := p.Key()

	if i, ok := c.byKey[key]; ok {
		p.ScrapedAt = firstSeen(c.products[i], p)
		if sameProduct(c.products[i], p) {
			return false
		}
		oldURL := model.NormalizeURL(c.products[i].URL)
		c.products[i] = p
		if oldURL != normURL {
			delete(c.byURL, oldURL)
		}
		c.byURL[normURL] = i
		c.dirty = true
		return true
	}

	// 同一 URL 以前按另一个键存放（例如标识码后来才抽取到）
	if i, ok := c.byURL[normURL]; ok {
		p.ScrapedAt = firstSeen(c.products[i], p)
		c.products[i] = p
		c.reindex()
		c.dirty = true
		return true
	}

	c.products = append(c.products, p)
	c.byKey[key] = len(c.products) - 1
	c.byURL[normURL] = len(c.products) - 1
	c.dirty = true
	return true
}

func firstSeen(old, p model.SupplierProduct) time.Time {
	if old.ScrapedAt.IsZero() || (!p.ScrapedAt.IsZero() && p.ScrapedAt.Before(old.ScrapedAt)) {
		return p.ScrapedAt
	}
	return old.ScrapedAt
}

func sameProduct(a, b model.SupplierProduct) bool {
	return a.Title == b.Title && a.Price == b.Price && a.URL == b.URL &&
		a.IdentifierCode == b.IdentifierCode && a.SKU == b.SKU && a.Brand == b.Brand &&
		a.StockStatus == b.StockStatus && a.Category == b.Category &&
		a.ScrapedAt.Equal(b.ScrapedAt) && a.UpdatedAt.Equal(b.UpdatedAt)
}

// All 返回全部商品的副本（按首次插入顺序）。
func (c *SupplierCache) All() []model.SupplierProduct {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.SupplierProduct, len(c.products))
	copy(out, c.products)
	return out
}

// LookupURL 按商品 URL 查找已缓存的记录。
func (c *SupplierCache) LookupURL(rawURL string) (model.SupplierProduct, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byURL[model.NormalizeURL(rawURL)]
	if !ok {
		return model.SupplierProduct{}, false
	}
	return c.products[i], true
}

func (c *SupplierCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// Save 有变更时写盘并刷新 last_write。
func (c *SupplierCache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	now := c.now()
	doc := supplierDocument{Supplier: c.supplier, LastWrite: now, Products: c.products}
	if doc.Products == nil {
		doc.Products = []model.SupplierProduct{}
	}
	if err := saveDocument(ctx, c.kv, supplierKey(c.supplier), doc); err != nil {
		return fmt.Errorf("save supplier cache: %w", err)
	}
	c.lastWrite = now
	c.dirty = false
	return nil
}

// AgeHours 返回距上次写盘的小时数，从未写过时为 +Inf。
func (c *SupplierCache) AgeHours() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastWrite.IsZero() {
		return math.Inf(1)
	}
	return c.now().Sub(c.lastWrite).Hours()
}

// Fresh 判断缓存是否非空且在 maxAge 之内写过。
func (c *SupplierCache) Fresh(maxAge time.Duration) bool {
	if maxAge <= 0 || c.Len() == 0 {
		return false
	}
	return c.AgeHours() <= maxAge.Hours()
}

// Invalidate 清空缓存并删除持久化文档。
func (c *SupplierCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.products = nil
	c.lastWrite = time.Time{}
	c.reindex()
	c.dirty = false
	c.mu.Unlock()
	if err := c.kv.Delete(ctx, supplierKey(c.supplier)); err != nil {
		return fmt.Errorf("invalidate supplier cache: %w", err)
	}
	return nil
}
