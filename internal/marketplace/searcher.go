// Package marketplace 在目标平台上为供应商商品寻找对应的商品详情。
package marketplace

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fbahunter/internal/config"
	"fbahunter/internal/extract"
	"fbahunter/internal/fetch"
	"fbahunter/internal/model"
)

// 搜索结果卡片与详情页的字段名。
const (
	FieldCatalogID   = "catalog_id"
	FieldSponsored   = "sponsored"
	FieldRating      = "rating"
	FieldReviewCount = "review_count"
	FieldSalesRank   = "sales_rank"
)

// Candidate 是搜索结果中的一条。
type Candidate struct {
	CatalogID string
	Title     string
	Price     float64
	URL       string
	Sponsored bool
	Position  int
}

// Searcher 是平台搜索能力的抽象。
type Searcher interface {
	SearchByIdentifier(ctx context.Context, code string) ([]Candidate, error)
	SearchByTitle(ctx context.Context, query string) ([]Candidate, error)
	FetchListing(ctx context.Context, catalogID string) (model.MarketplaceListing, error)
}

// BrowserSearcher 通过页面抓取实现 Searcher。
type BrowserSearcher struct {
	fetcher    fetch.Fetcher
	searchURL  string
	listingURL string
	selectors  extract.SiteSelectors
	now        func() time.Time
}

// NewBrowserSearcher 创建平台搜索器。
//
// 参数:
//
//	f: 平台页面抓取器，限流在 f 内完成
//	cfg: 平台 URL 模板
//	sel: 搜索结果与详情页选择器
func NewBrowserSearcher(f fetch.Fetcher, cfg config.MarketplaceConfig, sel extract.SiteSelectors) *BrowserSearcher {
	return &BrowserSearcher{
		fetcher:    f,
		searchURL:  cfg.SearchURL,
		listingURL: cfg.ListingURL,
		selectors:  sel,
		now:        time.Now,
	}
}

// SearchURL 把查询词填入搜索 URL 模板。
func SearchURL(template, query string) string {
	return strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
}

// ListingURL 把平台商品编号填入详情 URL 模板。
func ListingURL(template, catalogID string) string {
	return strings.ReplaceAll(template, "{id}", url.PathEscape(catalogID))
}

func (s *BrowserSearcher) SearchByIdentifier(ctx context.Context, code string) ([]Candidate, error) {
	return s.search(ctx, code)
}

func (s *BrowserSearcher) SearchByTitle(ctx context.Context, query string) ([]Candidate, error) {
	return s.search(ctx, query)
}

func (s *BrowserSearcher) search(ctx context.Context, query string) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty search query")
	}
	doc, err := s.fetcher.Fetch(ctx, SearchURL(s.searchURL, query))
	if err != nil {
		return nil, err
	}
	return ParseResults(doc, s.selectors), nil
}

// ParseResults 读取搜索结果卡片。没有平台编号的卡片被跳过。
func ParseResults(doc *extract.Document, sel extract.SiteSelectors) []Candidate {
	var out []Candidate
	for i, card := range doc.Each(sel.ResultItems) {
		id := card.First(sel.Result[FieldCatalogID])
		if id == "" {
			continue
		}
		c := Candidate{
			CatalogID: id,
			Title:     card.First(sel.Result[extract.FieldTitle]),
			Position:  i,
		}
		if marker := sel.Result[FieldSponsored]; len(marker) > 0 {
			c.Sponsored = card.Exists(marker) || card.First(marker) != ""
		}
		if link := card.First(sel.Result[extract.FieldURL]); link != "" {
			c.URL = doc.Resolve(link)
		}
		if price, err := extract.ParsePrice(card.First(sel.Result[extract.FieldPrice])); err == nil {
			c.Price = price
		}
		out = append(out, c)
	}
	return out
}

func (s *BrowserSearcher) FetchListing(ctx context.Context, catalogID string) (model.MarketplaceListing, error) {
	doc, err := s.fetcher.Fetch(ctx, ListingURL(s.listingURL, catalogID))
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	return ParseListing(doc, catalogID, s.selectors.Listing, s.now())
}

var (
	firstNumberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	thousandsRe   = regexp.MustCompile(`\d[\d,.]*`)
)

// ParseListing 抽取平台详情页。title 与 price 必需。
func ParseListing(doc *extract.Document, catalogID string, sm extract.SelectorMap, now time.Time) (model.MarketplaceListing, error) {
	l := model.MarketplaceListing{
		CatalogID:      catalogID,
		Title:          doc.First(sm[extract.FieldTitle]),
		Brand:          doc.First(sm[extract.FieldBrand]),
		IdentifierCode: extract.ParseIdentifier(doc.First(sm[extract.FieldIdentifierCode])),
		URL:            doc.URL(),
		FetchedAt:      now,
	}
	if m := firstNumberRe.FindString(doc.First(sm[FieldRating])); m != "" {
		l.Rating, _ = strconv.ParseFloat(m, 64)
	}
	l.ReviewCount = parseCount(doc.First(sm[FieldReviewCount]))
	l.SalesRank = parseCount(doc.First(sm[FieldSalesRank]))

	var missing []string
	reason := ""
	if l.Title == "" {
		missing = append(missing, extract.FieldTitle)
	}
	price, err := extract.ParsePrice(doc.First(sm[extract.FieldPrice]))
	if err != nil {
		missing = append(missing, extract.FieldPrice)
		reason = err.Error()
	} else {
		l.Price = price
	}
	if len(missing) > 0 {
		return l, &extract.IncompleteError{URL: doc.URL(), Missing: missing, Reason: reason}
	}
	return l, nil
}

// parseCount 读取 "1,234 ratings"、"#12,345 in Kitchen" 中的整数。
func parseCount(raw string) int {
	m := thousandsRe.FindString(raw)
	if m == "" {
		return 0
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
