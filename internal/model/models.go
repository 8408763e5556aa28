package model

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// StockStatus 表示供应商商品的库存状态。
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockUnknown    StockStatus = "unknown"
)

// MatchType 表示供应商商品与平台商品的匹配方式。
type MatchType string

const (
	MatchIdentifierExact  MatchType = "identifier_exact"
	MatchIdentifierCached MatchType = "identifier_cached"
	MatchTitleFallback    MatchType = "title_fallback"
	MatchNone             MatchType = "none"
)

// Phase 表示一次运行所处的阶段。
type Phase string

const (
	PhaseCategories Phase = "categories"
	PhaseProducts   Phase = "products"
	PhaseCompleted  Phase = "completed"
)

// Valid 判断阶段取值是否合法。
func (p Phase) Valid() bool {
	switch p {
	case PhaseCategories, PhaseProducts, PhaseCompleted:
		return true
	}
	return false
}

// SupplierProduct 是从供应商商品页抽取出的一条记录。
//
// 同一 Key() 的记录在缓存中只保留一份，后写入者覆盖先写入者，
// 但 ScrapedAt 始终是首次抽取的时间，UpdatedAt 是最近一次抽取的时间。
type SupplierProduct struct {
	Title          string      `json:"title"`
	Price          float64     `json:"price"`
	URL            string      `json:"url"`
	IdentifierCode string      `json:"identifier_code,omitempty"`
	SKU            string      `json:"sku,omitempty"`
	Brand          string      `json:"brand,omitempty"`
	StockStatus    StockStatus `json:"stock_status"`
	Category       string      `json:"category,omitempty"`
	ScrapedAt      time.Time   `json:"scraped_at"`
	UpdatedAt      time.Time   `json:"updated_at,omitempty"`
}

// Key 返回商品的去重键：优先使用标识码，否则使用归一化后的 URL。
func (p SupplierProduct) Key() string {
	return SupplierKey(p.IdentifierCode, p.URL)
}

// SupplierKey 计算供应商商品的去重键。
func SupplierKey(identifierCode, rawURL string) string {
	if code := strings.ToUpper(strings.TrimSpace(identifierCode)); code != "" {
		return "id:" + code
	}
	return "url:" + NormalizeURL(rawURL)
}

// NormalizeURL 归一化商品 URL，用于去重与链接表主键。
//
// 规则：host 小写、去掉 fragment 与末尾斜杠、删除 utm_* 参数、参数按 key 排序。
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}

// MarketplaceListing 是平台商品详情。
type MarketplaceListing struct {
	CatalogID      string    `json:"catalog_id"`
	Title          string    `json:"title"`
	Price          float64   `json:"price"`
	Brand          string    `json:"brand,omitempty"`
	Rating         float64   `json:"rating,omitempty"`
	ReviewCount    int       `json:"review_count,omitempty"`
	SalesRank      int       `json:"sales_rank,omitempty"`
	IdentifierCode string    `json:"identifier_code,omitempty"`
	URL            string    `json:"url,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// MatchResult 是一次匹配的结论。LowConfidence 表示标题匹配只达到中置信度阈值。
type MatchResult struct {
	SupplierKey   string    `json:"supplier_key"`
	CatalogID     string    `json:"catalog_id,omitempty"`
	MatchType     MatchType `json:"match_type"`
	Confidence    float64   `json:"confidence"`
	LowConfidence bool      `json:"low_confidence,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// Matched 判断结果是否关联到了平台商品。
func (r MatchResult) Matched() bool {
	return r.MatchType != MatchNone && r.CatalogID != ""
}

// LinkEntry 是链接表中的一条映射。
type LinkEntry struct {
	SupplierKey string    `json:"supplier_key"`
	SupplierURL string    `json:"supplier_url"`
	CatalogID   string    `json:"catalog_id"`
	MatchType   MatchType `json:"match_type"`
	Confidence  float64   `json:"confidence"`
	LinkedAt    time.Time `json:"linked_at"`
}

// FeeBreakdown 记录平台费用明细。
type FeeBreakdown struct {
	Referral    float64 `json:"referral"`
	Fulfillment float64 `json:"fulfillment"`
	Prep        float64 `json:"prep"`
	Closing     float64 `json:"closing"`
	VAT         float64 `json:"vat"`
	Total       float64 `json:"total"`
}

// ProfitRecord 是一对匹配商品的利润分析结果。只用于报表，不作为持久状态。
type ProfitRecord struct {
	SupplierKey    string       `json:"supplier_key"`
	SupplierTitle  string       `json:"supplier_title"`
	SupplierURL    string       `json:"supplier_url"`
	SupplierPrice  float64      `json:"supplier_price"`
	IdentifierCode string       `json:"identifier_code,omitempty"`
	CatalogID      string       `json:"catalog_id"`
	MarketplaceURL string       `json:"marketplace_url,omitempty"`
	ListingTitle   string       `json:"listing_title"`
	SellingPrice   float64      `json:"selling_price"`
	Fees           FeeBreakdown `json:"fees"`
	NetProfit      float64      `json:"net_profit"`
	ROI            float64      `json:"roi"`
	MatchType      MatchType    `json:"match_type"`
	Confidence     float64      `json:"confidence"`
	Profitable     bool         `json:"profitable"`
	EvaluatedAt    time.Time    `json:"evaluated_at"`
}

// CategoryNode 是站点分类树中的一个节点。
//
// ProductCountObserved 只对有子分类的节点探测；-1 表示未探测。
type CategoryNode struct {
	URL                  string `json:"url"`
	Depth                int    `json:"depth"`
	ParentURL            string `json:"parent_url,omitempty"`
	ProductCountObserved int    `json:"product_count_observed"`
}
