package extract

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"fbahunter/internal/model"
)

// 字段名。
const (
	FieldTitle          = "title"
	FieldPrice          = "price"
	FieldURL            = "url"
	FieldIdentifierCode = "identifier_code"
	FieldSKU            = "sku"
	FieldBrand          = "brand"
	FieldStockStatus    = "stock_status"
)

// SelectorMap 为每个字段列出按顺序尝试的选择器。
type SelectorMap map[string][]string

// SiteSelectors 是一个站点的全部选择器配置。
type SiteSelectors struct {
	Product        SelectorMap `json:"product"`         // 商品详情页字段
	ProductLinks   []string    `json:"product_links"`   // 分类列表页上的商品链接
	CategoryLinks  []string    `json:"category_links"`  // 首页/导航上的分类链接
	NextPage       []string    `json:"next_page"`       // 下一页链接（可选）
	ResultItems    []string    `json:"result_items"`    // 搜索结果卡片容器
	Result         SelectorMap `json:"result"`          // 卡片内字段：catalog_id, title, price, url, sponsored
	Listing        SelectorMap `json:"listing"`         // 平台详情页字段：title, price, brand, rating, review_count, sales_rank, identifier_code
	LoginIndicator []string    `json:"login_indicator"` // 登录态标志元素，为空表示站点无需登录
}

// IncompleteError 表示必需字段缺失。errors.Is(err, model.ErrExtractionIncomplete) 成立。
type IncompleteError struct {
	URL     string
	Missing []string
	Reason  string
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("extraction incomplete for %s: missing %s", e.URL, strings.Join(e.Missing, ","))
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *IncompleteError) Unwrap() error { return model.ErrExtractionIncomplete }

var identifierRe = regexp.MustCompile(`\d[\d\s-]{6,20}\d`)

// Extract 按选择器从商品详情页抽取一条供应商商品。
//
// title 与 price 必需；url 缺省时取页面地址。price 无法解析也视为缺失。
func Extract(doc *Document, sm SelectorMap, now time.Time) (model.SupplierProduct, error) {
	p := model.SupplierProduct{
		Title:       doc.First(sm[FieldTitle]),
		URL:         doc.First(sm[FieldURL]),
		SKU:         doc.First(sm[FieldSKU]),
		Brand:       doc.First(sm[FieldBrand]),
		StockStatus: ParseStock(doc.First(sm[FieldStockStatus])),
		ScrapedAt:   now,
		UpdatedAt:   now,
	}
	if p.URL == "" {
		p.URL = doc.URL()
	} else {
		p.URL = doc.Resolve(p.URL)
	}
	p.IdentifierCode = ParseIdentifier(doc.First(sm[FieldIdentifierCode]))

	var missing []string
	reason := ""
	if p.Title == "" {
		missing = append(missing, FieldTitle)
	}
	rawPrice := doc.First(sm[FieldPrice])
	price, err := ParsePrice(rawPrice)
	switch {
	case rawPrice == "":
		missing = append(missing, FieldPrice)
	case err != nil:
		missing = append(missing, FieldPrice)
		reason = err.Error()
	default:
		p.Price = price
	}
	if p.URL == "" {
		missing = append(missing, FieldURL)
	}
	if len(missing) > 0 {
		return p, &IncompleteError{URL: doc.URL(), Missing: missing, Reason: reason}
	}
	return p, nil
}

// IsIncomplete 报告错误是否为字段缺失。
func IsIncomplete(err error) bool {
	var ie *IncompleteError
	return errors.As(err, &ie)
}

// ParseIdentifier 提取 8/12/13/14 位数字标识码（EAN-8、UPC、EAN-13、GTIN-14），否则返回空。
func ParseIdentifier(raw string) string {
	for _, m := range identifierRe.FindAllString(raw, -1) {
		digits := strings.NewReplacer(" ", "", "-", "").Replace(m)
		switch len(digits) {
		case 8, 12, 13, 14:
			return digits
		}
	}
	return ""
}

var (
	outOfStockHints = []string{"out of stock", "sold out", "unavailable", "no longer available", "discontinued", "backorder"}
	inStockHints    = []string{"in stock", "available", "add to basket", "add to cart", "add to bag", "buy now"}
)

// ParseStock 把库存文案映射为库存状态。先判断缺货，"unavailable" 含有 "available"。
func ParseStock(raw string) model.StockStatus {
	text := strings.ToLower(raw)
	if text == "" {
		return model.StockUnknown
	}
	for _, h := range outOfStockHints {
		if strings.Contains(text, h) {
			return model.StockOutOfStock
		}
	}
	for _, h := range inStockHints {
		if strings.Contains(text, h) {
			return model.StockInStock
		}
	}
	return model.StockUnknown
}

// ExtractLinks 收集选择器命中的链接（默认取 href），补全为绝对地址并按出现顺序去重。
func ExtractLinks(doc *Document, selectors []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, raw := range selectors {
		css, attr := splitSelector(raw)
		if attr == "" {
			attr = "href"
		}
		for _, v := range doc.All([]string{css + "@" + attr}) {
			if strings.HasPrefix(v, "#") || strings.HasPrefix(strings.ToLower(v), "javascript:") || strings.HasPrefix(strings.ToLower(v), "mailto:") {
				continue
			}
			abs := doc.Resolve(v)
			u, err := url.Parse(abs)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				continue
			}
			u.Fragment = ""
			abs = u.String()
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
	}
	return out
}
