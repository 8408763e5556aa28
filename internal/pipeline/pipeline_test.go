package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"fbahunter/internal/extract"
	"fbahunter/internal/fetch"
	"fbahunter/internal/kv"
	"fbahunter/internal/marketplace"
	"fbahunter/internal/model"
	"fbahunter/internal/profit"
	"fbahunter/internal/report"
	"fbahunter/internal/store"
	"fbahunter/internal/walker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	base     = "https://shop.example"
	supplier = "shop.example"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func categoryPage(paths ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, p := range paths {
		fmt.Fprintf(&b, `<a class="product" href="%s">item</a>`, p)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func productPage(title, price string) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><span class="price">%s</span></body></html>`, title, price)
}

// stubMatcher 把每个有价格的商品匹配到 "M-<标题>"，售价为进价的 5 倍。
type stubMatcher struct {
	mu       sync.Mutex
	links    *store.LinkingStore
	listings *store.MarketplaceCache
	calls    []string
	onCall   func(n int) error
}

func (m *stubMatcher) Match(ctx context.Context, p model.SupplierProduct) (marketplace.Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, p.Title)
	n := len(m.calls)
	m.mu.Unlock()
	if m.onCall != nil {
		if err := m.onCall(n); err != nil {
			return marketplace.Outcome{}, err
		}
	}

	id := "M-" + strings.ReplaceAll(p.Title, " ", "")
	listing := model.MarketplaceListing{CatalogID: id, Title: p.Title, Price: p.Price * 5}
	if err := m.listings.Put(ctx, listing); err != nil {
		return marketplace.Outcome{}, err
	}
	res := model.MatchResult{SupplierKey: p.Key(), CatalogID: id, MatchType: model.MatchIdentifierExact, Confidence: 1}
	m.links.Upsert(model.LinkEntry{SupplierKey: res.SupplierKey, SupplierURL: p.URL, CatalogID: id, MatchType: res.MatchType, Confidence: 1})
	return marketplace.Outcome{Result: res, Listing: &listing}, nil
}

func (m *stubMatcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type captureSink struct{ got *report.Report }

func (c *captureSink) Name() string { return "capture" }
func (c *captureSink) Write(_ context.Context, r *report.Report) error {
	c.got = r
	return nil
}

type fixture struct {
	kv      kv.Store
	pages   *fetch.Static
	matcher *stubMatcher
	sink    *captureSink
	opts    Options
	warmUp  func(context.Context) error
	roots   StaticRanker
}

// newFixture 注册两个分类：a 有 5 个商品（p5 没有价格），b 有 p4（与 a 重复）和 p6。
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)

	pages := fetch.NewStatic().
		Set(base+"/c/a", categoryPage("/p/1", "/p/2", "/p/3", "/p/4", "/p/5")).
		Set(base+"/c/b", categoryPage("/p/4", "/p/6"))
	for i := 1; i <= 6; i++ {
		price := fmt.Sprintf("£%d.00", i)
		if i == 5 {
			price = "Price on application"
		}
		pages.Set(fmt.Sprintf("%s/p/%d", base, i), productPage(fmt.Sprintf("Product %d", i), price))
	}
	return &fixture{
		kv:    s,
		pages: pages,
		sink:  &captureSink{},
		opts:  Options{BatchSize: 2},
		roots: StaticRanker{base + "/c/a", base + "/c/b"},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	logger := testLogger()
	progress := store.NewProgressStore(f.kv, 2, logger)
	products := store.NewSupplierCache(f.kv, supplier, logger)
	links := store.NewLinkingStore(f.kv, supplier, logger)
	listings := store.NewMarketplaceCache(f.kv, time.Hour, logger)
	onCall := func(int) error { return nil }
	if f.matcher != nil {
		onCall = f.matcher.onCall
	}
	f.matcher = &stubMatcher{links: links, listings: listings, onCall: onCall}
	probes := &ProbeErrors{}

	return New(Deps{
		Supplier: supplier,
		Progress: progress,
		Products: products,
		Links:    links,
		Listings: listings,
		Fetcher:  f.pages,
		Walker: walker.New(f.pages, walker.Options{
			MaxPages:     5,
			ProductLinks: []string{"a.product"},
			Logger:       logger,
			OnProbeError: probes.Record,
		}),
		Ranker:    f.roots,
		Selectors: extract.SelectorMap{extract.FieldTitle: {"h1"}, extract.FieldPrice: {".price"}},
		Matcher:   f.matcher,
		Analyzer:  profit.NewAnalyzer(profit.FeeModel{ReferralRate: 0.15}, profit.Limits{MinROI: 100}),
		Sink:      f.sink,
		WarmUp:    f.warmUp,
		Logger:    logger,

		ProbeErrors: probes,
	}, f.opts)
}

func (f *fixture) state(t *testing.T) *model.ProcessingState {
	t.Helper()
	st, err := store.NewProgressStore(f.kv, 1, testLogger()).Peek(context.Background(), supplier)
	require.NoError(t, err)
	return st
}

func productURL(i int) string { return fmt.Sprintf("%s/p/%d", base, i) }

func TestRun_FullRun(t *testing.T) {
	f := newFixture(t)
	rep, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		assert.Equal(t, 1, f.pages.Calls(productURL(i)), "product %d fetched once", i)
	}
	assert.Equal(t, []string{"Product 1", "Product 2", "Product 3", "Product 4", "Product 6"}, f.matcher.Calls())

	st := f.state(t)
	assert.Equal(t, model.PhaseCompleted, st.Phase)
	assert.Equal(t, []string{base + "/c/a", base + "/c/b"}, st.CategoriesCompleted)
	assert.Equal(t, 1, st.ErrorsByKind["extraction_incomplete"])
	assert.Equal(t, 1, st.ErrorsByCategory[base+"/c/a"])
	assert.Equal(t, 7, st.TotalProductsSeen, "five in a, two in b")
	assert.Equal(t, 3, st.BatchNumber)
	assert.NotEmpty(t, st.RunID)

	require.NotNil(t, rep)
	assert.Same(t, rep, f.sink.got)
	assert.Len(t, rep.Records, 5)
	assert.Equal(t, 1, rep.Errors.Total)
	// 售价 5x，佣金 15%：roi = (5 - 0.75 - 1) / 1 = 325%
	assert.Len(t, rep.Profitable(), 5)
	assert.InDelta(t, 325, rep.Records[0].ROI, 1e-9)
}

func TestRun_ResumesFromProductIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := model.NewProcessingState(supplier, time.Now())
	st.Categories = []model.CategoryNode{
		{URL: base + "/c/a", ProductCountObserved: walker.NotProbed},
		{URL: base + "/c/b", ProductCountObserved: walker.NotProbed},
	}
	st.AdvanceProduct(3)
	require.NoError(t, store.NewProgressStore(f.kv, 1, testLogger()).Save(ctx, st))

	_, err := f.orchestrator().Run(ctx)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		assert.Zero(t, f.pages.Calls(productURL(i)), "product %d must not be reprocessed", i)
	}
	for _, i := range []int{4, 5, 6} {
		assert.Equal(t, 1, f.pages.Calls(productURL(i)), "product %d processed exactly once", i)
	}
	assert.Equal(t, []string{"Product 4", "Product 6"}, f.matcher.Calls())
}

func TestRun_ResumesFromSavedPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pages.Set(base+"/c/a?page=2", categoryPage("/p/7", "/p/8"))
	for i := 7; i <= 8; i++ {
		f.pages.Set(productURL(i), productPage(fmt.Sprintf("Product %d", i), fmt.Sprintf("£%d.00", i)))
	}

	st := model.NewProcessingState(supplier, time.Now())
	st.Categories = []model.CategoryNode{
		{URL: base + "/c/a", ProductCountObserved: walker.NotProbed},
		{URL: base + "/c/b", ProductCountObserved: walker.NotProbed},
	}
	st.AdvancePage(2, 5)
	st.AdvanceProduct(6)
	require.NoError(t, store.NewProgressStore(f.kv, 1, testLogger()).Save(ctx, st))

	_, err := f.orchestrator().Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, f.pages.Calls(base+"/c/a"), "page 1 is not fetched again")
	assert.Equal(t, 1, f.pages.Calls(base+"/c/a?page=2"))
	assert.Zero(t, f.pages.Calls(productURL(7)), "processed link on the saved page is skipped")
	assert.Equal(t, 1, f.pages.Calls(productURL(8)))
	assert.Equal(t, []string{"Product 8", "Product 4", "Product 6"}, f.matcher.Calls())
}

func TestRun_RecordsPageStart(t *testing.T) {
	f := newFixture(t)
	f.pages.Set(base+"/c/a?page=2", categoryPage("/p/7", "/p/8"))
	for i := 7; i <= 8; i++ {
		f.pages.Set(productURL(i), productPage(fmt.Sprintf("Product %d", i), fmt.Sprintf("£%d.00", i)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.matcher = &stubMatcher{onCall: func(n int) error {
		// 第 6 次匹配是第 2 页的 /p/8（/p/5 没有价格，不参与匹配）
		if n == 6 {
			cancel()
			return ctx.Err()
		}
		return nil
	}}

	_, err := f.orchestrator().Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	st := f.state(t)
	assert.Equal(t, 0, st.CategoryIndex)
	assert.Equal(t, 2, st.SubcategoryIndex)
	assert.Equal(t, 5, st.PageStartIndex)
	assert.Equal(t, 6, st.ProductIndexInCategory)
}

func TestRun_CancelFlushesAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.matcher = &stubMatcher{onCall: func(n int) error {
		if n == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}}

	_, err := f.orchestrator().Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	st := f.state(t)
	assert.Equal(t, model.PhaseCategories, st.Phase)
	assert.Equal(t, 0, st.CategoryIndex)
	assert.Equal(t, 2, st.ProductIndexInCategory, "flushed at the interrupted product")
	assert.Len(t, st.Categories, 2)

	f.matcher.onCall = nil
	rep, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Product 3", "Product 4", "Product 6"}, f.matcher.Calls())
	assert.Equal(t, 1, f.pages.Calls(productURL(1)))
	assert.Equal(t, 2, f.pages.Calls(productURL(3)), "the interrupted product is redone")
	assert.Len(t, rep.Records, 5, "links from the first run are kept")
}

func TestRun_FreshCacheSkipsWalk(t *testing.T) {
	f := newFixture(t)
	f.opts.CacheMaxAge = time.Hour
	ctx := context.Background()

	_, err := f.orchestrator().Run(ctx)
	require.NoError(t, err)
	fetched := f.pages.TotalCalls()

	rep, err := f.orchestrator().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, fetched, f.pages.TotalCalls(), "no supplier page is fetched")
	assert.Equal(t, []string{"Product 1", "Product 2", "Product 3", "Product 4", "Product 6"}, f.matcher.Calls())
	assert.Len(t, rep.Records, 5)
	assert.Equal(t, model.PhaseCompleted, f.state(t).Phase)
}

func TestRun_RewalkIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator().Run(ctx)
	require.NoError(t, err)
	_, err = f.orchestrator().Run(ctx)
	require.NoError(t, err)

	products := store.NewSupplierCache(f.kv, supplier, testLogger())
	require.NoError(t, products.Load(ctx))
	assert.Equal(t, 5, products.Len(), "no duplicate entries after walking twice")

	links := store.NewLinkingStore(f.kv, supplier, testLogger())
	require.NoError(t, links.Load(ctx))
	assert.Equal(t, 5, links.Len())
}

func TestRun_ForceRefreshRewalks(t *testing.T) {
	f := newFixture(t)
	f.opts.CacheMaxAge = time.Hour
	ctx := context.Background()

	_, err := f.orchestrator().Run(ctx)
	require.NoError(t, err)

	f.opts.ForceRefresh = true
	_, err = f.orchestrator().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.pages.Calls(productURL(1)))
}

func TestRun_WarmUpFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.warmUp = func(context.Context) error {
		return fmt.Errorf("connect: %w", model.ErrSessionUnavailable)
	}

	_, err := f.orchestrator().Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
	assert.True(t, errors.Is(err, model.ErrSessionUnavailable))
	assert.Zero(t, f.pages.TotalCalls())

	st := f.state(t)
	assert.Equal(t, model.PhaseCategories, st.Phase, "state flushed before exiting")
}

func TestRun_CategoryPageFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	f.pages.Fail(base+"/c/a", fmt.Errorf("timeout: %w", model.ErrNetworkTransient))

	rep, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	st := f.state(t)
	assert.Equal(t, []string{base + "/c/b"}, st.CategoriesCompleted, "failed category is not marked completed")
	assert.Equal(t, 1, st.ErrorsByKind["network_transient"])
	assert.Equal(t, []string{"Product 4", "Product 6"}, f.matcher.Calls())
	assert.Len(t, rep.Records, 2)
}

func TestRun_ProbeFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	f.roots = StaticRanker{base + "/c", base + "/c/a", base + "/c/b"}
	f.pages.Fail(base+"/c", fmt.Errorf("reset: %w", model.ErrNetworkTransient))

	rep, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)

	st := f.state(t)
	require.Len(t, st.Categories, 3, "failed probe keeps the children")
	assert.Equal(t, 1, st.ErrorsByKind["network_transient"])
	assert.Equal(t, 1, st.ErrorsByCategory[base+"/c"])
	assert.Equal(t, 1, rep.Errors.ByKind["network_transient"])
	assert.Equal(t, []string{"Product 1", "Product 2", "Product 3", "Product 4", "Product 6"}, f.matcher.Calls())
}
