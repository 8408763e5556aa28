package store

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fbahunter/internal/kv"
	"fbahunter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFileStore(t *testing.T) *kv.FileStore {
	t.Helper()
	s, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestProgressStore_LoadMissingReturnsFresh(t *testing.T) {
	p := NewProgressStore(newFileStore(t), 5, testLogger())
	st, err := p.Load(context.Background(), "shop.example")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCategories, st.Phase)
	assert.Equal(t, "shop.example", st.Supplier)
	assert.Zero(t, st.CategoryIndex)
	assert.NotNil(t, st.CategoriesCompleted)
}

func TestProgressStore_SaveAndReload(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	p := NewProgressStore(s, 5, testLogger())

	st := model.NewProcessingState("shop.example", time.Now())
	st.AdvanceCategory(2)
	st.AdvanceProduct(7)
	st.MarkCategoryCompleted("https://shop.example/c/a")
	st.RecordError("network_transient", "https://shop.example/c/b")
	require.NoError(t, p.Save(ctx, st))

	loaded, err := NewProgressStore(s, 5, testLogger()).Load(ctx, "shop.example")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CategoryIndex)
	assert.Equal(t, 7, loaded.ProductIndexInCategory)
	assert.True(t, loaded.IsCategoryCompleted("https://shop.example/c/a"))
	assert.Equal(t, 1, loaded.ErrorsByKind["network_transient"])
}

func TestProgressStore_CorruptDocumentIsQuarantined(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	path := s.Path("progress/shop.example")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"phase":"categor`), 0o644))

	st, err := NewProgressStore(s, 5, testLogger()).Load(ctx, "shop.example")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCategories, st.Phase)
	assert.Zero(t, st.ProductIndexInCategory)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "shop.example.json.corrupt-"))
}

func TestProgressStore_InvalidSchemaIsCorruption(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, s.Put(ctx, "progress/shop.example", []byte(`{"phase":"dancing","category_index":-4}`)))

	st, err := NewProgressStore(s, 5, testLogger()).Load(ctx, "shop.example")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCategories, st.Phase)
	assert.Zero(t, st.CategoryIndex)
}

func TestProgressStore_TickSavesEveryInterval(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	p := NewProgressStore(s, 3, testLogger())
	st := model.NewProcessingState("shop.example", time.Now())

	for i := 1; i <= 2; i++ {
		st.AdvanceProduct(i)
		saved, err := p.Tick(ctx, st, 1)
		require.NoError(t, err)
		assert.False(t, saved)
	}
	_, err := s.Get(ctx, "progress/shop.example")
	assert.ErrorIs(t, err, model.ErrNotFound, "nothing saved before the interval")

	st.AdvanceProduct(3)
	saved, err := p.Tick(ctx, st, 1)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Zero(t, p.Pending())

	loaded, err := p.Load(ctx, "shop.example")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.ProductIndexInCategory)
}

func TestProgressStore_BeforeSaveRunsFirstAndBlocksOnError(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	p := NewProgressStore(s, 1, testLogger())

	var order []string
	p.BeforeSave(func(context.Context) error { order = append(order, "cache"); return nil })
	p.BeforeSave(func(context.Context) error { return assert.AnError })

	err := p.Save(ctx, model.NewProcessingState("shop.example", time.Now()))
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"cache"}, order)

	_, err = s.Get(ctx, "progress/shop.example")
	assert.ErrorIs(t, err, model.ErrNotFound, "progress must not be written when dependents fail")
}

func TestProgressStore_Reset(t *testing.T) {
	ctx := context.Background()
	p := NewProgressStore(newFileStore(t), 1, testLogger())
	st := model.NewProcessingState("shop.example", time.Now())
	st.AdvanceCategory(4)
	require.NoError(t, p.Save(ctx, st))

	fresh, err := p.Reset(ctx, "shop.example")
	require.NoError(t, err)
	assert.Zero(t, fresh.CategoryIndex)

	_, err = p.Peek(ctx, "shop.example")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func product(url, code, title string, price float64) model.SupplierProduct {
	return model.SupplierProduct{
		Title: title, Price: price, URL: url, IdentifierCode: code,
		StockStatus: model.StockInStock,
		ScrapedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSupplierCache_MergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewSupplierCache(newFileStore(t), "shop.example", testLogger())
	require.NoError(t, c.Load(ctx))

	batch := []model.SupplierProduct{
		product("https://shop.example/p/1", "5012345678900", "Kettle", 12.5),
		product("https://shop.example/p/2", "", "Toaster", 20),
		product("https://shop.example/p/3", "5012345678917", "Mug", 3),
	}
	for _, p := range batch {
		assert.True(t, c.Upsert(p))
	}
	first := c.All()

	for _, p := range batch {
		assert.False(t, c.Upsert(p), "re-merging the same record is a no-op")
	}
	assert.Equal(t, first, c.All())
	assert.Equal(t, 3, c.Len())
}

func TestSupplierCache_LaterWriteWins(t *testing.T) {
	c := NewSupplierCache(newFileStore(t), "shop.example", testLogger())

	c.Upsert(product("https://shop.example/p/1", "5012345678900", "Kettle", 12.5))
	c.Upsert(product("https://shop.example/p/1?utm_source=mail", "5012345678900", "Kettle 1.7L", 11.0))

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "Kettle 1.7L", all[0].Title)
	assert.Equal(t, 11.0, all[0].Price)
}

func TestSupplierCache_CollisionKeepsFirstSeen(t *testing.T) {
	c := NewSupplierCache(newFileStore(t), "shop.example", testLogger())
	first := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	later := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)

	p := product("https://shop.example/p/1", "5012345678900", "Kettle", 10)
	p.ScrapedAt = first
	require.True(t, c.Upsert(p))

	q := product("https://shop.example/p/1", "5012345678900", "Kettle", 8)
	q.StockStatus = model.StockOutOfStock
	q.ScrapedAt = later
	require.True(t, c.Upsert(q))

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, 8.0, all[0].Price)
	assert.Equal(t, model.StockOutOfStock, all[0].StockStatus)
	assert.Equal(t, first, all[0].ScrapedAt)
	assert.Equal(t, later, all[0].UpdatedAt)

	// 标识码后补的记录同样保留首次时间
	c.Upsert(product("https://shop.example/p/9", "", "Blender", 30))
	refreshed := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	r := product("https://shop.example/p/9", "5012345678924", "Blender", 28)
	r.ScrapedAt = refreshed
	c.Upsert(r)
	got, ok := c.LookupURL("https://shop.example/p/9")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got.ScrapedAt)
	assert.Equal(t, refreshed, got.UpdatedAt)
}

func TestSupplierCache_IdentifierDiscoveredLater(t *testing.T) {
	c := NewSupplierCache(newFileStore(t), "shop.example", testLogger())

	c.Upsert(product("https://shop.example/p/9", "", "Blender", 30))
	c.Upsert(product("https://shop.example/p/9/", "5012345678924", "Blender", 30))
	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "5012345678924", all[0].IdentifierCode)

	// a later extraction that misses the code keeps the known one
	c.Upsert(product("https://shop.example/p/9", "", "Blender Pro", 28))
	all = c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "5012345678924", all[0].IdentifierCode)
	assert.Equal(t, "Blender Pro", all[0].Title)

	got, ok := c.LookupURL("https://SHOP.example/p/9#specs")
	require.True(t, ok)
	assert.Equal(t, "Blender Pro", got.Title)
}

func TestSupplierCache_PersistAndFreshness(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	c := NewSupplierCache(s, "shop.example", testLogger())
	require.NoError(t, c.Load(ctx))
	assert.True(t, math.IsInf(c.AgeHours(), 1))
	assert.False(t, c.Fresh(24*time.Hour), "empty cache is never fresh")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Upsert(product("https://shop.example/p/1", "", "Kettle", 12.5))
	require.NoError(t, c.Save(ctx))

	reloaded := NewSupplierCache(s, "shop.example", testLogger())
	reloaded.now = func() time.Time { return base.Add(6 * time.Hour) }
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 1, reloaded.Len())
	assert.InDelta(t, 6.0, reloaded.AgeHours(), 1e-9)
	assert.True(t, reloaded.Fresh(24*time.Hour))
	assert.False(t, reloaded.Fresh(5*time.Hour))

	require.NoError(t, reloaded.Invalidate(ctx))
	assert.Zero(t, reloaded.Len())
	_, err := s.Get(ctx, "supplier/shop.example")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSupplierCache_DuplicateKeysOnDiskAreCorruption(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, s.Put(ctx, "supplier/shop.example", []byte(`{"supplier":"shop.example","products":[
		{"title":"a","url":"https://shop.example/p/1","identifier_code":"5012345678900"},
		{"title":"b","url":"https://shop.example/p/2","identifier_code":"5012345678900"}]}`)))

	c := NewSupplierCache(s, "shop.example", testLogger())
	require.NoError(t, c.Load(ctx))
	assert.Zero(t, c.Len())
}

func TestLinkingStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	l := NewLinkingStore(s, "shop.example", testLogger())
	require.NoError(t, l.Load(ctx))

	l.Upsert(model.LinkEntry{SupplierKey: "id:5012345678900", CatalogID: "B000AAA111", MatchType: model.MatchTitleFallback, Confidence: 0.6})
	l.Upsert(model.LinkEntry{SupplierKey: "id:5012345678900", CatalogID: "B000BBB222", MatchType: model.MatchIdentifierExact, Confidence: 1})
	require.NoError(t, l.Save(ctx))

	reloaded := NewLinkingStore(s, "shop.example", testLogger())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 1, reloaded.Len())
	e, ok := reloaded.Get("id:5012345678900")
	require.True(t, ok)
	assert.Equal(t, "B000BBB222", e.CatalogID)
	assert.Equal(t, model.MatchIdentifierExact, e.MatchType)
	assert.False(t, e.LinkedAt.IsZero())

	reloaded.Remove("id:5012345678900")
	assert.Zero(t, reloaded.Len())
}

func TestLinkingStore_AllSorted(t *testing.T) {
	l := NewLinkingStore(newFileStore(t), "shop.example", testLogger())
	l.Upsert(model.LinkEntry{SupplierKey: "url:b", CatalogID: "2"})
	l.Upsert(model.LinkEntry{SupplierKey: "id:a", CatalogID: "1"})
	all := l.All()
	require.Len(t, all, 2)
	assert.Equal(t, "id:a", all[0].SupplierKey)
}

func TestMarketplaceCache_TTL(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := NewMarketplaceCache(s, time.Hour, testLogger())
	c.now = func() time.Time { return base }
	require.NoError(t, c.Put(ctx, model.MarketplaceListing{CatalogID: "B000AAA111", Title: "Kettle", Price: 24.99}))

	got, ok, err := c.Get(ctx, "B000AAA111")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 24.99, got.Price)

	// a second process reads it from disk
	other := NewMarketplaceCache(s, time.Hour, testLogger())
	other.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, ok, err = other.Get(ctx, "B000AAA111")
	require.NoError(t, err)
	assert.True(t, ok)

	other.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok, err = other.Get(ctx, "B000AAA111")
	require.NoError(t, err)
	assert.False(t, ok, "stale listing is a miss")

	require.NoError(t, c.Invalidate(ctx, "B000AAA111"))
	_, ok, err = c.Get(ctx, "B000AAA111")
	require.NoError(t, err)
	assert.False(t, ok)
}
