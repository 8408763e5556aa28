package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fbahunter/internal/kv"
	"fbahunter/internal/model"
)

type linkingDocument struct {
	Supplier  string            `json:"supplier"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entries   []model.LinkEntry `json:"entries"`
}

func (d *linkingDocument) validate() error {
	for i, e := range d.Entries {
		if e.SupplierKey == "" || e.CatalogID == "" {
			return fmt.Errorf("entry %d missing supplier_key or catalog_id", i)
		}
	}
	return nil
}

// LinkingStore 维护供应商商品键到平台 catalog id 的映射。
//
// 每个供应商键至多一条；重复 Upsert 以最后一次为准。
type LinkingStore struct {
	kv       kv.Store
	logger   *slog.Logger
	supplier string
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]model.LinkEntry
	dirty   bool
}

// NewLinkingStore 创建链接表，需调用 Load 读入已有数据。
func NewLinkingStore(s kv.Store, supplier string, logger *slog.Logger) *LinkingStore {
	return &LinkingStore{
		kv:       s,
		logger:   logger,
		supplier: supplier,
		now:      time.Now,
		entries:  map[string]model.LinkEntry{},
	}
}

func linkingKey(supplier string) string {
	return "linking/" + kv.SafeSegment(supplier)
}

// Load 读入链接表。文档损坏时丢弃并从空表开始。
func (l *LinkingStore) Load(ctx context.Context) error {
	doc := &linkingDocument{}
	found, err := loadDocument(ctx, l.kv, l.logger, linkingKey(l.supplier), doc, doc.validate)
	if err != nil && !errors.Is(err, model.ErrStateCorruption) {
		return fmt.Errorf("load linking map: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]model.LinkEntry, len(doc.Entries))
	if found {
		for _, e := range doc.Entries {
			l.entries[e.SupplierKey] = e
		}
	}
	l.dirty = false
	return nil
}

// PeekLinks 只读地读取链接表，按供应商键排序。文档不存在时返回空表；
// 损坏时返回 model.ErrStateCorruption 且不做隔离。用于状态接口。
func PeekLinks(ctx context.Context, s kv.Store, supplier string) ([]model.LinkEntry, error) {
	data, err := s.Get(ctx, linkingKey(supplier))
	if errors.Is(err, model.ErrNotFound) {
		return []model.LinkEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := &linkingDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStateCorruption, err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStateCorruption, err)
	}
	out := append([]model.LinkEntry{}, doc.Entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierKey < out[j].SupplierKey })
	return out, nil
}

// Upsert 写入一条映射，已有同键映射时覆盖。
func (l *LinkingStore) Upsert(e model.LinkEntry) {
	if e.LinkedAt.IsZero() {
		e.LinkedAt = l.now()
	}
	l.mu.Lock()
	l.entries[e.SupplierKey] = e
	l.dirty = true
	l.mu.Unlock()
}

// Get 按供应商键查询映射。
func (l *LinkingStore) Get(supplierKey string) (model.LinkEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[supplierKey]
	return e, ok
}

// Remove 删除一条映射（例如平台商品已下架）。
func (l *LinkingStore) Remove(supplierKey string) {
	l.mu.Lock()
	if _, ok := l.entries[supplierKey]; ok {
		delete(l.entries, supplierKey)
		l.dirty = true
	}
	l.mu.Unlock()
}

// All 返回按供应商键排序的全部映射。
func (l *LinkingStore) All() []model.LinkEntry {
	l.mu.RLock()
	out := make([]model.LinkEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierKey < out[j].SupplierKey })
	return out
}

func (l *LinkingStore) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Save 有变更时写盘。
func (l *LinkingStore) Save(ctx context.Context) error {
	l.mu.RLock()
	dirty := l.dirty
	l.mu.RUnlock()
	if !dirty {
		return nil
	}
	doc := linkingDocument{Supplier: l.supplier, UpdatedAt: l.now(), Entries: l.All()}
	if err := saveDocument(ctx, l.kv, linkingKey(l.supplier), doc); err != nil {
		return fmt.Errorf("save linking map: %w", err)
	}
	l.mu.Lock()
	l.dirty = false
	l.mu.Unlock()
	return nil
}
