// Package pipeline 串联分类遍历、商品抽取、平台匹配与利润报表，并维护可恢复的进度。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"fbahunter/internal/extract"
	"fbahunter/internal/fetch"
	"fbahunter/internal/marketplace"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"
	"fbahunter/internal/profit"
	"fbahunter/internal/report"
	"fbahunter/internal/store"
	"fbahunter/internal/walker"

	"github.com/google/uuid"
)

const (
	flushTimeout  = 30 * time.Second
	warmUpTimeout = 60 * time.Second
)

// ErrFatal 标记终止整个运行的资源级错误。
var ErrFatal = errors.New("pipeline aborted")

// Matcher 为供应商商品寻找平台商品。
type Matcher interface {
	Match(ctx context.Context, p model.SupplierProduct) (marketplace.Outcome, error)
}

// Deps 是运行所需的全部组件。
type Deps struct {
	Supplier  string                  // 供应商域名，所有持久化文档以它为键
	Progress  *store.ProgressStore    // 进度
	Products  *store.SupplierCache    // 已抽取商品
	Links     *store.LinkingStore     // 商品链接表
	Listings  *store.MarketplaceCache // 平台商品详情缓存
	Fetcher   fetch.Fetcher           // 供应商页面抓取（已带重试与登录检查）
	Walker    *walker.Walker
	Ranker    CategoryRanker
	Selectors extract.SelectorMap // 供应商商品详情页字段选择器
	Matcher   Matcher
	Analyzer  *profit.Analyzer
	Sink      report.Sink // 可为 nil
	// WarmUp 在开始前取得一个浏览器页面，失败视为致命错误。可为 nil。
	WarmUp func(ctx context.Context) error
	// ProbeErrors 收集 Walker 的探测失败，可为 nil。其 Record 应挂到 walker.Options.OnProbeError。
	ProbeErrors *ProbeErrors
	Logger *slog.Logger
}

// ProbeErrors 收集分类探测失败，Discover 返回后并入进度的错误计数。Record 可并发调用。
type ProbeErrors struct {
	mu       sync.Mutex
	failures []probeFailure
}

type probeFailure struct {
	category string
	kind     string
}

// Record 记录一次探测失败。
func (p *ProbeErrors) Record(categoryURL string, err error) {
	p.mu.Lock()
	p.failures = append(p.failures, probeFailure{category: categoryURL, kind: model.ErrorKind(err)})
	p.mu.Unlock()
}

func (p *ProbeErrors) drain() []probeFailure {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.failures
	p.failures = nil
	return out
}

// Options 运行参数。
type Options struct {
	BatchSize    int           // 每批商品数，用于批次日志
	CacheMaxAge  time.Duration // 供应商缓存在该时长内视为新鲜，直接进入匹配阶段
	ForceRefresh bool          // 忽略缓存，重新遍历分类
	RunID        string        // 为空时生成
}

// Orchestrator 是单个逻辑 worker：分类与商品严格按顺序处理。
type Orchestrator struct {
	d      Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New 创建编排器，并把供应商缓存与链接表注册为进度写盘前的钩子。
//
// 参数:
//
//	d: 组件
//	opts: 运行参数
//
// 返回值:
//
//	*Orchestrator: 编排器
func New(d Deps, opts Options) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	d.Progress.BeforeSave(d.Products.Save)
	d.Progress.BeforeSave(d.Links.Save)
	return &Orchestrator{d: d, opts: opts, logger: d.Logger, now: time.Now}
}

// Run 执行（或恢复）一次完整运行，完成时返回报表。
//
// ctx 结束时先落盘全部状态再返回 ctx.Err()。单个商品或分类的错误只计数，不终止运行。
func (o *Orchestrator) Run(ctx context.Context) (*report.Report, error) {
	st, err := o.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	logger := o.logger.With(slog.String("run_id", st.RunID), slog.String("supplier", o.d.Supplier))

	if o.d.WarmUp != nil {
		wctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
		err := o.d.WarmUp(wctx)
		cancel()
		if err != nil {
			o.flush(ctx, st, logger)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: no browser page available: %w", ErrFatal, err)
		}
	}

	logger.Info("run started",
		slog.String("phase", string(st.Phase)),
		slog.Int("categories", len(st.Categories)),
		slog.Int("category_index", st.CategoryIndex),
		slog.Int("product_index", st.ProductIndexInCategory),
		slog.Int("cached_products", o.d.Products.Len()))

	if err := o.execute(ctx, st, logger); err != nil {
		o.flush(ctx, st, logger)
		if ctx.Err() != nil {
			logger.Warn("run interrupted, state flushed",
				slog.Int("category_index", st.CategoryIndex),
				slog.Int("product_index", st.ProductIndexInCategory))
			return nil, ctx.Err()
		}
		return nil, err
	}

	rep := o.buildReport(ctx, st)
	if o.d.Sink != nil {
		if err := o.d.Sink.Write(ctx, rep); err != nil {
			logger.Error("report output failed", slog.String("error", err.Error()))
		}
	}
	logger.Info("run completed",
		slog.Int("products", st.TotalProductsSeen),
		slog.Int("records", len(rep.Records)),
		slog.Int("profitable", len(rep.Profitable())),
		slog.Int("errors", st.TotalErrors))
	return rep, nil
}

// load 读入全部状态。上次运行已完成或要求刷新时从头开始。
func (o *Orchestrator) load(ctx context.Context) (*model.ProcessingState, error) {
	st, err := o.d.Progress.Load(ctx, o.d.Supplier)
	if err != nil {
		return nil, err
	}
	if err := o.d.Products.Load(ctx); err != nil {
		return nil, err
	}
	if err := o.d.Links.Load(ctx); err != nil {
		return nil, err
	}

	if o.opts.ForceRefresh {
		if err := o.d.Products.Invalidate(ctx); err != nil {
			return nil, err
		}
	}
	if o.opts.ForceRefresh || st.Phase == model.PhaseCompleted {
		if st, err = o.d.Progress.Reset(ctx, o.d.Supplier); err != nil {
			return nil, err
		}
	}
	if st.RunID == "" {
		st.RunID = o.opts.RunID
		if st.RunID == "" {
			st.RunID = uuid.NewString()
		}
	}
	return st, nil
}

func (o *Orchestrator) execute(ctx context.Context, st *model.ProcessingState, logger *slog.Logger) error {
	if st.Phase == model.PhaseCategories && len(st.Categories) == 0 {
		if !o.opts.ForceRefresh && o.d.Products.Fresh(o.opts.CacheMaxAge) {
			logger.Info("supplier cache fresh, skipping category walk",
				slog.Float64("age_hours", o.d.Products.AgeHours()),
				slog.Int("products", o.d.Products.Len()))
			st.Phase = model.PhaseProducts
			st.CategoryIndex, st.SubcategoryIndex, st.PageStartIndex, st.ProductIndexInCategory = 0, 0, 0, 0
		} else if err := o.discover(ctx, st, logger); err != nil {
			return err
		}
		if err := o.save(ctx, st); err != nil {
			return err
		}
	}

	switch st.Phase {
	case model.PhaseCategories:
		if err := o.walkCategories(ctx, st, logger); err != nil {
			return err
		}
	case model.PhaseProducts:
		if err := o.matchCached(ctx, st, logger); err != nil {
			return err
		}
	}

	st.Phase = model.PhaseCompleted
	return o.save(ctx, st)
}

func (o *Orchestrator) discover(ctx context.Context, st *model.ProcessingState, logger *slog.Logger) error {
	roots, err := o.d.Ranker.Rank(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: category ranking: %w", ErrFatal, err)
	}
	nodes, err := o.d.Walker.Discover(ctx, roots)
	if err != nil {
		return err
	}
	st.Categories = nodes
	if o.d.ProbeErrors != nil {
		for _, f := range o.d.ProbeErrors.drain() {
			st.RecordError(f.kind, f.category)
		}
	}
	logger.Info("categories discovered", slog.Int("roots", len(roots)), slog.Int("categories", len(nodes)))
	return nil
}

// walkCategories 逐个分类分页抽取，每个商品抽取后立即匹配。
func (o *Orchestrator) walkCategories(ctx context.Context, st *model.ProcessingState, logger *slog.Logger) error {
	for st.CategoryIndex < len(st.Categories) {
		if err := ctx.Err(); err != nil {
			return err
		}
		cat := st.Categories[st.CategoryIndex]
		if !st.IsCategoryCompleted(cat.URL) {
			complete, err := o.walkCategory(ctx, st, cat.URL, logger.With(slog.String("category", cat.URL)))
			if err != nil {
				return err
			}
			if complete {
				st.MarkCategoryCompleted(cat.URL)
			}
		}
		st.AdvanceCategory(st.CategoryIndex + 1)
		if err := o.save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// walkCategory 处理一个分类，返回分页是否正常结束。
//
// 游标 ProductIndexInCategory 是该分类商品链接序列中的位置。恢复时从记录的页号重新分页，
// 跳过该页中已处理的链接。
func (o *Orchestrator) walkCategory(ctx context.Context, st *model.ProcessingState, category string, logger *slog.Logger) (bool, error) {
	startPage, index := st.ResumePage()
	if startPage > 1 {
		logger.Info("resuming category", slog.Int("page", startPage), slog.Int("product_index", st.ProductIndexInCategory))
	}
	pager := o.d.Walker.Paginate(category, startPage)
	for {
		links, err := pager.Next(ctx)
		if errors.Is(err, walker.ErrDone) {
			logger.Info("category completed", slog.Int("products", index), slog.Int("pages", pager.Page()))
			return true, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			o.recordError(st, err, category, logger.With(slog.Int("page", pager.Page()+1)))
			return false, nil
		}
		st.AdvancePage(pager.Page(), index)

		for _, link := range links {
			if index < st.ProductIndexInCategory {
				index++
				continue
			}
			if err := o.processProduct(ctx, st, category, link, logger); err != nil {
				return false, err
			}
			index++
			st.AdvanceProduct(index)
			if err := o.unitDone(ctx, st, logger); err != nil {
				return false, err
			}
		}
	}
}

// processProduct 抽取、缓存并匹配一个商品。本次运行内已在另一个分类下抽取过的 URL 直接跳过。
func (o *Orchestrator) processProduct(ctx context.Context, st *model.ProcessingState, category, productURL string, logger *slog.Logger) error {
	if cached, ok := o.d.Products.LookupURL(productURL); ok && cached.Category != category && !cached.UpdatedAt.Before(st.StartedAt) {
		metrics.ProductsTotal.WithLabelValues("extract", "duplicate").Inc()
		logger.Debug("product already processed in this run", slog.String("url", productURL))
		return nil
	}

	doc, err := o.d.Fetcher.Fetch(ctx, productURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ProductsTotal.WithLabelValues("extract", "failed").Inc()
		o.recordError(st, err, category, logger.With(slog.String("url", productURL)))
		return nil
	}
	p, err := extract.Extract(doc, o.d.Selectors, o.now())
	if err != nil {
		metrics.ProductsTotal.WithLabelValues("extract", "incomplete").Inc()
		o.recordError(st, err, category, logger.With(slog.String("url", productURL)))
		return nil
	}
	p.Category = category
	o.d.Products.Upsert(p)
	metrics.ProductsTotal.WithLabelValues("extract", "ok").Inc()

	return o.match(ctx, st, p, category, logger)
}

func (o *Orchestrator) match(ctx context.Context, st *model.ProcessingState, p model.SupplierProduct, category string, logger *slog.Logger) error {
	out, err := o.d.Matcher.Match(ctx, p)
	if err != nil {
		return err
	}
	if out.Err != nil {
		o.recordError(st, out.Err, category, logger.With(slog.String("url", p.URL)))
	}
	status := "matched"
	if !out.Result.Matched() {
		status = "unmatched"
	}
	metrics.ProductsTotal.WithLabelValues("match", status).Inc()
	return nil
}

// matchCached 在缓存新鲜时跳过遍历，按缓存顺序匹配全部商品。ProductIndexInCategory 是缓存序列中的位置。
func (o *Orchestrator) matchCached(ctx context.Context, st *model.ProcessingState, logger *slog.Logger) error {
	products := o.d.Products.All()
	for i := st.ProductIndexInCategory; i < len(products); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := products[i]
		if err := o.match(ctx, st, p, p.Category, logger); err != nil {
			return err
		}
		st.AdvanceProduct(i + 1)
		if err := o.unitDone(ctx, st, logger); err != nil {
			return err
		}
	}
	return nil
}

// unitDone 记一个商品单位：批次计数与按间隔写盘。
func (o *Orchestrator) unitDone(ctx context.Context, st *model.ProcessingState, logger *slog.Logger) error {
	st.TotalProductsSeen++
	if st.TotalProductsSeen%o.opts.BatchSize == 0 {
		st.BatchNumber++
		logger.Info("batch completed",
			slog.Int("batch", st.BatchNumber),
			slog.Int("products", st.TotalProductsSeen),
			slog.Int("errors", st.TotalErrors),
			slog.Int("links", o.d.Links.Len()))
	}
	if _, err := o.d.Progress.Tick(ctx, st, 1); err != nil {
		return o.saveErr(ctx, err)
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, st *model.ProcessingState) error {
	if err := o.d.Progress.Save(ctx, st); err != nil {
		return o.saveErr(ctx, err)
	}
	return nil
}

// saveErr 把写盘失败升级为致命错误。ctx 结束导致的失败按中断处理。
func (o *Orchestrator) saveErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: state not writable: %w", ErrFatal, err)
}

// flush 在中断或致命错误时尽力写盘，使用独立于 ctx 的超时。
func (o *Orchestrator) flush(ctx context.Context, st *model.ProcessingState, logger *slog.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := o.d.Progress.Flush(fctx, st); err != nil {
		logger.Error("final state flush failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) recordError(st *model.ProcessingState, err error, category string, logger *slog.Logger) {
	kind := model.ErrorKind(err)
	st.RecordError(kind, category)
	metrics.ObserveError(kind)
	logger.Warn("unit failed", slog.String("kind", kind), slog.String("error", err.Error()))
}

// buildReport 由缓存重新计算全部已匹配商品的利润。详情已过期的链接被跳过。
func (o *Orchestrator) buildReport(ctx context.Context, st *model.ProcessingState) *report.Report {
	rep := &report.Report{
		RunID:       st.RunID,
		Supplier:    o.d.Supplier,
		GeneratedAt: o.now(),
		Errors:      st.Summary(),
	}
	for _, p := range o.d.Products.All() {
		link, ok := o.d.Links.Get(p.Key())
		if !ok || link.CatalogID == "" {
			continue
		}
		listing, hit, err := o.d.Listings.Get(ctx, link.CatalogID)
		if err != nil || !hit {
			continue
		}
		res := model.MatchResult{
			SupplierKey: link.SupplierKey,
			CatalogID:   link.CatalogID,
			MatchType:   link.MatchType,
			Confidence:  link.Confidence,
		}
		rep.Records = append(rep.Records, o.d.Analyzer.Analyze(p, res, listing))
	}
	metrics.ProfitableProducts.Set(float64(len(rep.Profitable())))
	return rep
}
