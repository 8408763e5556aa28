package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fbahunter/internal/kv"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"
)

// ProgressStore 持久化每个供应商的处理进度。
//
// Save 前会依次执行 BeforeSave 注册的钩子（供应商缓存、链接表），
// 保证进度文档里记录的工作已经落盘。
type ProgressStore struct {
	kv       kv.Store
	logger   *slog.Logger
	interval int
	now      func() time.Time

	pending    int
	beforeSave []func(context.Context) error
}

// NewProgressStore 创建进度存储。
//
// 参数:
//
//	s: 底层键值存储
//	saveInterval: 每处理多少个单位自动保存一次，<=0 时为 1
//	logger: 日志记录器
func NewProgressStore(s kv.Store, saveInterval int, logger *slog.Logger) *ProgressStore {
	if saveInterval <= 0 {
		saveInterval = 1
	}
	return &ProgressStore{kv: s, logger: logger, interval: saveInterval, now: time.Now}
}

func progressKey(supplier string) string {
	return "progress/" + kv.SafeSegment(supplier)
}

// BeforeSave 注册在每次写进度之前执行的钩子。
func (p *ProgressStore) BeforeSave(fn func(context.Context) error) {
	p.beforeSave = append(p.beforeSave, fn)
}

// Load 读取供应商的进度。文档不存在或已损坏时返回全新的初始进度。
func (p *ProgressStore) Load(ctx context.Context, supplier string) (*model.ProcessingState, error) {
	st := &model.ProcessingState{}
	found, err := loadDocument(ctx, p.kv, p.logger, progressKey(supplier), st, st.Validate)
	switch {
	case errors.Is(err, model.ErrStateCorruption):
		p.logger.Warn("progress corrupt, starting fresh", slog.String("supplier", supplier))
		return model.NewProcessingState(supplier, p.now()), nil
	case err != nil:
		return nil, fmt.Errorf("load progress: %w", err)
	case !found:
		return model.NewProcessingState(supplier, p.now()), nil
	}
	if st.Supplier == "" {
		st.Supplier = supplier
	}
	if st.CategoriesCompleted == nil {
		st.CategoriesCompleted = []string{}
	}
	p.logger.Info("progress loaded",
		slog.String("supplier", supplier),
		slog.String("phase", string(st.Phase)),
		slog.Int("category_index", st.CategoryIndex),
		slog.Int("product_index", st.ProductIndexInCategory))
	return st, nil
}

// Peek 只读地读取进度，不做隔离也不回退。用于状态接口。
func (p *ProgressStore) Peek(ctx context.Context, supplier string) (*model.ProcessingState, error) {
	data, err := p.kv.Get(ctx, progressKey(supplier))
	if err != nil {
		return nil, err
	}
	st := &model.ProcessingState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStateCorruption, err)
	}
	return st, nil
}

// Save 原子地写入进度。
func (p *ProgressStore) Save(ctx context.Context, st *model.ProcessingState) error {
	for _, fn := range p.beforeSave {
		if err := fn(ctx); err != nil {
			metrics.ProgressSavesTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("save dependent state: %w", err)
		}
	}
	st.LastUpdate = p.now()
	if err := saveDocument(ctx, p.kv, progressKey(st.Supplier), st); err != nil {
		metrics.ProgressSavesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("save progress: %w", err)
	}
	p.pending = 0
	metrics.ProgressSavesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Tick 记录完成了 units 个单位，达到保存间隔时写盘。返回是否写盘。
func (p *ProgressStore) Tick(ctx context.Context, st *model.ProcessingState, units int) (bool, error) {
	p.pending += units
	if p.pending < p.interval {
		return false, nil
	}
	if err := p.Save(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

// Pending 返回自上次保存以来未落盘的单位数。
func (p *ProgressStore) Pending() int { return p.pending }

// Flush 无条件写盘。用于阶段切换、收到退出信号或运行结束。
func (p *ProgressStore) Flush(ctx context.Context, st *model.ProcessingState) error {
	return p.Save(ctx, st)
}

// Reset 删除进度并返回全新的初始进度。
func (p *ProgressStore) Reset(ctx context.Context, supplier string) (*model.ProcessingState, error) {
	if err := p.kv.Delete(ctx, progressKey(supplier)); err != nil {
		return nil, fmt.Errorf("reset progress: %w", err)
	}
	p.pending = 0
	return model.NewProcessingState(supplier, p.now()), nil
}
