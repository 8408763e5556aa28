// Package profit 计算一对匹配商品的平台费用、净利润与 ROI。
package profit

import (
	"math"
	"time"

	"fbahunter/internal/config"
	"fbahunter/internal/model"
)

// FeeModel 平台费用模型。
type FeeModel struct {
	ReferralRate   float64 // 佣金比例，按售价计
	MinReferralFee float64 // 单件最低佣金
	FulfillmentFee float64 // 单件配送费
	PrepFee        float64 // 单件预处理费
	ClosingFee     float64 // 单件结算费
	VATRate        float64
	VATRegistered  bool // 为 true 时扣除销项税，进价按不含税计
}

// FeeModelFromConfig 由配置构造费用模型。
func FeeModelFromConfig(cfg config.FeesConfig) FeeModel {
	return FeeModel{
		ReferralRate:   cfg.ReferralRate,
		MinReferralFee: cfg.MinReferralFee,
		FulfillmentFee: cfg.FulfillmentFee,
		PrepFee:        cfg.PrepFee,
		ClosingFee:     cfg.ClosingFee,
		VATRate:        cfg.VATRate,
		VATRegistered:  cfg.VATRegistered,
	}
}

// Limits 利润筛选条件。价格区间作用于进价，0 表示不限。
type Limits struct {
	MinROI    float64
	MinProfit float64
	MinPrice  float64
	MaxPrice  float64
}

// LimitsFromConfig 由配置构造筛选条件。
func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{MinROI: cfg.MinROI, MinProfit: cfg.MinProfit, MinPrice: cfg.MinPrice, MaxPrice: cfg.MaxPrice}
}

// Fees 计算售价对应的费用明细。
func (m FeeModel) Fees(sellingPrice float64) model.FeeBreakdown {
	f := model.FeeBreakdown{
		Referral:    math.Max(sellingPrice*m.ReferralRate, m.MinReferralFee),
		Fulfillment: m.FulfillmentFee,
		Prep:        m.PrepFee,
		Closing:     m.ClosingFee,
	}
	if m.VATRegistered && m.VATRate > 0 {
		f.VAT = sellingPrice * m.VATRate / (1 + m.VATRate)
	}
	f.Total = f.Referral + f.Fulfillment + f.Prep + f.Closing + f.VAT
	return f
}

// cost 返回计入 ROI 的进价。
func (m FeeModel) cost(supplierPrice float64) float64 {
	if m.VATRegistered && m.VATRate > 0 {
		return supplierPrice / (1 + m.VATRate)
	}
	return supplierPrice
}

// Evaluate 计算利润：net = 售价 − 费用 − 进价，roi = net / 进价 × 100。
//
// 进价不为正时 ROI 记为 0。数值不做舍入，舍入只在报表输出时进行。
func Evaluate(supplierPrice float64, listing model.MarketplaceListing, fm FeeModel) model.ProfitRecord {
	fees := fm.Fees(listing.Price)
	cost := fm.cost(supplierPrice)
	net := listing.Price - fees.Total - cost

	rec := model.ProfitRecord{
		SupplierPrice:  supplierPrice,
		CatalogID:      listing.CatalogID,
		MarketplaceURL: listing.URL,
		ListingTitle:   listing.Title,
		SellingPrice:   listing.Price,
		Fees:           fees,
		NetProfit:      net,
	}
	if cost > 0 {
		rec.ROI = net / cost * 100
	}
	return rec
}

// Analyzer 把匹配结果转换为利润记录并标记是否达标。
type Analyzer struct {
	fees   FeeModel
	limits Limits
	now    func() time.Time
}

// NewAnalyzer 创建利润分析器。
func NewAnalyzer(fees FeeModel, limits Limits) *Analyzer {
	return &Analyzer{fees: fees, limits: limits, now: time.Now}
}

// Analyze 评估一个已匹配的商品。
func (a *Analyzer) Analyze(p model.SupplierProduct, res model.MatchResult, listing model.MarketplaceListing) model.ProfitRecord {
	rec := Evaluate(p.Price, listing, a.fees)
	rec.SupplierKey = p.Key()
	rec.SupplierTitle = p.Title
	rec.SupplierURL = p.URL
	rec.IdentifierCode = p.IdentifierCode
	rec.MatchType = res.MatchType
	rec.Confidence = res.Confidence
	rec.EvaluatedAt = a.now()
	rec.Profitable = a.limits.Accept(rec)
	return rec
}

// Accept 判断记录是否满足全部筛选条件。
func (l Limits) Accept(r model.ProfitRecord) bool {
	if r.SupplierPrice <= 0 {
		return false
	}
	if l.MinPrice > 0 && r.SupplierPrice < l.MinPrice {
		return false
	}
	if l.MaxPrice > 0 && r.SupplierPrice > l.MaxPrice {
		return false
	}
	return r.ROI >= l.MinROI && r.NetProfit >= l.MinProfit
}

// Filter 把记录分为达标与未达标两组，两组都保留原有顺序。
func Filter(records []model.ProfitRecord, limits Limits) (profitable, rest []model.ProfitRecord) {
	for _, r := range records {
		if limits.Accept(r) {
			profitable = append(profitable, r)
		} else {
			rest = append(rest, r)
		}
	}
	return profitable, rest
}

// Round2 舍入到分，用于报表。
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
