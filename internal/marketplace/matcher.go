package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fbahunter/internal/config"
	"fbahunter/internal/fetch"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"
	"fbahunter/internal/pkg/retry"
	"fbahunter/internal/score"
	"fbahunter/internal/store"
)

const (
	defaultMaxCandidates = 10
	defaultQueryWords    = 8
)

// Options 匹配器参数。
type Options struct {
	Scorer        *score.Scorer
	Retry         retry.Policy
	MaxCandidates int // 标题搜索最多评估前 N 个非广告候选
	QueryWords    int // 标题查询词数上限
	Logger        *slog.Logger
}

// OptionsFromConfig 由配置构造匹配器参数。
func OptionsFromConfig(cfg config.MatcherConfig, logger *slog.Logger) Options {
	w := score.Weights{Brand: cfg.BrandWeight, Model: cfg.ModelWeight, Size: cfg.SizeWeight, Core: cfg.CoreWeight}
	return Options{
		Scorer: score.New(w, cfg.HighThreshold, cfg.MediumThreshold),
		Retry: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		MaxCandidates: cfg.MaxCandidates,
		QueryWords:    cfg.QueryWords,
		Logger:        logger,
	}
}

// Outcome 是一次匹配的结果。Listing 仅在匹配成功时非空。
//
// Err 记录导致 none 的请求失败（重试耗尽等），供调用方计数；它不是 Match 的返回错误。
type Outcome struct {
	Result  model.MatchResult
	Listing *model.MarketplaceListing
	Err     error

	cached bool // Listing 来自缓存
}

// Matcher 按 标识码 → 标题 的顺序为供应商商品寻找平台商品。
//
// 已有链接且详情缓存未过期时直接复用，不发起任何请求。
type Matcher struct {
	searcher Searcher
	cache    *store.MarketplaceCache
	links    *store.LinkingStore
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewMatcher 创建匹配器。
//
// 参数:
//
//	s: 平台搜索器
//	cache: 平台商品详情缓存
//	links: 供应商商品到平台商品的链接表，匹配成功后覆盖写入
//	opts: 打分与重试参数
func NewMatcher(s Searcher, cache *store.MarketplaceCache, links *store.LinkingStore, opts Options) *Matcher {
	if opts.Scorer == nil {
		opts.Scorer = score.New(score.DefaultWeights(), 0.75, 0.55)
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = defaultMaxCandidates
	}
	if opts.QueryWords <= 0 {
		opts.QueryWords = defaultQueryWords
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matcher{searcher: s, cache: cache, links: links, opts: opts, logger: logger, now: time.Now}
}

// Match 为一个供应商商品寻找平台商品。
//
// 搜索失败、重试耗尽或查无结果都返回 MatchType=none，error 只在 ctx 结束时非空。
// 任一阶段的请求失败都直接结束匹配，失败原因放在 Outcome.Err。
func (m *Matcher) Match(ctx context.Context, p model.SupplierProduct) (Outcome, error) {
	key := p.Key()

	out, ok, err := m.fromLink(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if ok {
		return m.finish(out), nil
	}

	if p.IdentifierCode != "" {
		out, ok, err = m.byIdentifier(ctx, p)
		if err != nil {
			return Outcome{}, err
		}
		if ok && out.Result.Matched() {
			return m.accept(ctx, p, out), nil
		}
		if ok {
			return m.finish(out), nil
		}
	}

	out, err = m.byTitle(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	if out.Result.Matched() {
		return m.accept(ctx, p, out), nil
	}
	return m.finish(out), nil
}

func (m *Matcher) fromLink(ctx context.Context, key string) (Outcome, bool, error) {
	entry, ok := m.links.Get(key)
	if !ok || entry.CatalogID == "" {
		return Outcome{}, false, nil
	}
	listing, hit, err := m.cache.Get(ctx, entry.CatalogID)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, false, ctx.Err()
		}
		m.logger.Warn("listing cache read failed",
			slog.String("catalog_id", entry.CatalogID),
			slog.String("error", err.Error()))
		return Outcome{}, false, nil
	}
	if !hit {
		return Outcome{}, false, nil
	}
	return Outcome{
		Result: model.MatchResult{
			SupplierKey: key,
			CatalogID:   entry.CatalogID,
			MatchType:   model.MatchIdentifierCached,
			Confidence:  entry.Confidence,
		},
		Listing: &listing,
		cached:  true,
	}, true, nil
}

// byIdentifier 执行标识码搜索。唯一的非广告结果且详情页标识码不冲突时接受。
//
// 第二个返回值表示匹配已有结论：接受，或请求失败后以 none 结束。
// 查无结果、结果不唯一与标识码冲突时返回 false，由标题搜索继续。
func (m *Matcher) byIdentifier(ctx context.Context, p model.SupplierProduct) (Outcome, bool, error) {
	logger := m.logger.With(slog.String("identifier_code", p.IdentifierCode))

	var found []Candidate
	err := m.withRetry(ctx, func(ctx context.Context) error {
		var err error
		found, err = m.searcher.SearchByIdentifier(ctx, p.IdentifierCode)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, false, ctx.Err()
		}
		metrics.ObserveError(model.ErrorKind(err))
		logger.Warn("identifier search failed", slog.String("error", err.Error()))
		return noMatch(p, "identifier search failed: "+err.Error(), 0, err), true, nil
	}

	candidates := organic(found)
	switch len(candidates) {
	case 0:
		logger.Debug("identifier search found nothing")
		return Outcome{}, false, nil
	case 1:
	default:
		metrics.ObserveError(model.ErrorKind(model.ErrMatchingAmbiguous))
		logger.Info("identifier search ambiguous", slog.Int("results", len(candidates)))
		return Outcome{}, false, nil
	}

	listing, cached, err := m.fetchListing(ctx, candidates[0].CatalogID)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, false, ctx.Err()
		}
		metrics.ObserveError(model.ErrorKind(err))
		logger.Warn("listing fetch failed",
			slog.String("catalog_id", candidates[0].CatalogID),
			slog.String("error", err.Error()))
		return noMatch(p, "listing fetch failed: "+err.Error(), 0, err), true, nil
	}
	if listing.IdentifierCode != "" && listing.IdentifierCode != p.IdentifierCode {
		logger.Info("listing identifier differs, falling back to title",
			slog.String("catalog_id", listing.CatalogID),
			slog.String("listing_code", listing.IdentifierCode))
		return Outcome{}, false, nil
	}
	return Outcome{
		Result: model.MatchResult{
			SupplierKey: p.Key(),
			CatalogID:   listing.CatalogID,
			MatchType:   model.MatchIdentifierExact,
			Confidence:  1,
		},
		Listing: &listing,
		cached:  cached,
	}, true, nil
}

// byTitle 对标题搜索的前 MaxCandidates 个非广告结果打分，取最高分，同分取靠前者。
func (m *Matcher) byTitle(ctx context.Context, p model.SupplierProduct) (Outcome, error) {
	none := func(reason string, confidence float64, err error) Outcome {
		return noMatch(p, reason, confidence, err)
	}

	query := score.QueryText(p.Title, m.opts.QueryWords)
	if query == "" {
		return none("empty title query", 0, nil), nil
	}

	var found []Candidate
	err := m.withRetry(ctx, func(ctx context.Context) error {
		var err error
		found, err = m.searcher.SearchByTitle(ctx, query)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		metrics.ObserveError(model.ErrorKind(err))
		m.logger.Warn("title search failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return none("title search failed: "+err.Error(), 0, err), nil
	}

	candidates := organic(found)
	if len(candidates) > m.opts.MaxCandidates {
		candidates = candidates[:m.opts.MaxCandidates]
	}
	if len(candidates) == 0 {
		return none("no candidates", 0, nil), nil
	}

	supplier := score.Item{Title: p.Title, Brand: p.Brand}
	best, bestScore := -1, -1.0
	for i, c := range candidates {
		if s := m.opts.Scorer.Score(supplier, score.Item{Title: c.Title}); s > bestScore {
			best, bestScore = i, s
		}
	}

	confidence := m.opts.Scorer.Classify(bestScore)
	if confidence == score.ConfidenceNone {
		return none(fmt.Sprintf("best score %.3f below threshold", bestScore), bestScore, nil), nil
	}

	listing, cached, err := m.fetchListing(ctx, candidates[best].CatalogID)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		m.logger.Warn("listing fetch failed",
			slog.String("catalog_id", candidates[best].CatalogID),
			slog.String("error", err.Error()))
		return none("listing fetch failed: "+err.Error(), bestScore, err), nil
	}

	return Outcome{
		Result: model.MatchResult{
			SupplierKey:   p.Key(),
			CatalogID:     listing.CatalogID,
			MatchType:     model.MatchTitleFallback,
			Confidence:    bestScore,
			LowConfidence: confidence == score.ConfidenceMedium,
		},
		Listing: &listing,
		cached:  cached,
	}, nil
}

func noMatch(p model.SupplierProduct, reason string, confidence float64, err error) Outcome {
	return Outcome{
		Result: model.MatchResult{
			SupplierKey: p.Key(),
			MatchType:   model.MatchNone,
			Confidence:  confidence,
			Reason:      reason,
		},
		Err: err,
	}
}

// fetchListing 优先读缓存，未命中时抓取详情页。
func (m *Matcher) fetchListing(ctx context.Context, catalogID string) (model.MarketplaceListing, bool, error) {
	if listing, hit, err := m.cache.Get(ctx, catalogID); err == nil && hit {
		return listing, true, nil
	}
	var listing model.MarketplaceListing
	err := m.withRetry(ctx, func(ctx context.Context) error {
		var err error
		listing, err = m.searcher.FetchListing(ctx, catalogID)
		return err
	})
	if err != nil {
		return model.MarketplaceListing{}, false, err
	}
	if listing.CatalogID == "" {
		listing.CatalogID = catalogID
	}
	return listing, false, nil
}

func (m *Matcher) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, m.opts.Retry, fetch.IsTransient, func(ctx context.Context, attempt int) error {
		err := fn(ctx)
		if err != nil && attempt > 0 {
			m.logger.Debug("marketplace request retry failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
		}
		return err
	})
}

// accept 写缓存与链接表。写缓存失败不影响匹配结论。
func (m *Matcher) accept(ctx context.Context, p model.SupplierProduct, out Outcome) Outcome {
	if !out.cached {
		if err := m.cache.Put(ctx, *out.Listing); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("listing cache write failed",
				slog.String("catalog_id", out.Listing.CatalogID),
				slog.String("error", err.Error()))
		}
	}
	m.links.Upsert(model.LinkEntry{
		SupplierKey: out.Result.SupplierKey,
		SupplierURL: p.URL,
		CatalogID:   out.Result.CatalogID,
		MatchType:   out.Result.MatchType,
		Confidence:  out.Result.Confidence,
		LinkedAt:    m.now(),
	})
	return m.finish(out)
}

func (m *Matcher) finish(out Outcome) Outcome {
	metrics.MatchResultsTotal.WithLabelValues(string(out.Result.MatchType)).Inc()
	m.logger.Debug("match resolved",
		slog.String("supplier_key", out.Result.SupplierKey),
		slog.String("match_type", string(out.Result.MatchType)),
		slog.String("catalog_id", out.Result.CatalogID),
		slog.Float64("confidence", out.Result.Confidence))
	return out
}

// organic 过滤广告结果，保持原有顺序。
func organic(cs []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if !c.Sponsored {
			out = append(out, c)
		}
	}
	return out
}
