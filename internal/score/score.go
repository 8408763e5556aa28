// Package score 计算供应商商品与平台候选之间确定性的相似度。
//
// 总分是四个 [0,1] 子分的加权和：品牌是否一致、型号重合度、规格重合度，
// 以及去掉停用词后的核心词重合度。
package score

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Item 是参与比较的一方。
type Item struct {
	Title string
	Brand string // 显式品牌，可选
}

// Weights 四个子分的权重，使用前按总和归一化。
type Weights struct {
	Brand float64
	Model float64
	Size  float64
	Core  float64
}

// DefaultWeights 返回默认权重 0.4/0.3/0.2/0.1。
func DefaultWeights() Weights {
	return Weights{Brand: 0.4, Model: 0.3, Size: 0.2, Core: 0.1}
}

// Confidence 是分数与阈值比较的结论。
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "none"
	}
}

// Breakdown 总分及其各项子分。
type Breakdown struct {
	Brand float64
	Model float64
	Size  float64
	Core  float64
	Total float64
}

// Scorer 持有权重与阈值，可并发使用。
type Scorer struct {
	weights Weights
	high    float64
	medium  float64
}

// New 创建打分器。
//
// 参数:
//
//	w: 子分权重，总和不为正或含负值时使用 DefaultWeights
//	high: 高置信阈值（含边界）
//	medium: 中置信阈值（含边界）
//
// 返回值:
//
//	*Scorer: 权重已归一化的打分器
func New(w Weights, high, medium float64) *Scorer {
	sum := w.Brand + w.Model + w.Size + w.Core
	if sum <= 0 || w.Brand < 0 || w.Model < 0 || w.Size < 0 || w.Core < 0 {
		w = DefaultWeights()
		sum = 1
	}
	return &Scorer{
		weights: Weights{Brand: w.Brand / sum, Model: w.Model / sum, Size: w.Size / sum, Core: w.Core / sum},
		high:    high,
		medium:  medium,
	}
}

// Score 返回 a 与 b 的加权相似度，范围 [0,1]。
func (s *Scorer) Score(a, b Item) float64 {
	return s.Breakdown(a, b).Total
}

// Breakdown 返回总分及各项子分。型号、规格或核心词双方都为空时该项取中性的 0.5。
func (s *Scorer) Breakdown(a, b Item) Breakdown {
	fa, fb := analyze(a), analyze(b)
	bd := Breakdown{
		Brand: brandScore(fa, fb),
		Model: setScore(fa.models, fb.models, 0.5, 0),
		Size:  setScore(fa.sizes, fb.sizes, 0.5, 0.25),
		Core:  setScore(fa.core, fb.core, 0.5, 0),
	}
	total := s.weights.Brand*bd.Brand + s.weights.Model*bd.Model + s.weights.Size*bd.Size + s.weights.Core*bd.Core
	bd.Total = math.Max(0, math.Min(1, total))
	return bd
}

// Classify 按闭区间阈值分级：score >= high 为 high，score >= medium 为 medium。
func (s *Scorer) Classify(score float64) Confidence {
	switch {
	case score >= s.high:
		return ConfidenceHigh
	case score >= s.medium:
		return ConfidenceMedium
	default:
		return ConfidenceNone
	}
}

// 单个 Item 抽取出的特征
type features struct {
	tokens   []string
	tokenSet map[string]bool
	brand    []string
	models   map[string]bool
	sizes    map[string]bool
	core     map[string]bool
}

var sizeRegex = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(litres?|liters?|grams?|ml|l|g|kg|oz|lbs?|cm|mm|m|pack|pk|x|pcs|ct)\b`)

func analyze(it Item) features {
	norm := Normalize(it.Title)
	f := features{
		tokens:   tokenRegex.FindAllString(norm, -1),
		tokenSet: map[string]bool{},
		brand:    Tokens(it.Brand),
		models:   map[string]bool{},
		sizes:    map[string]bool{},
		core:     map[string]bool{},
	}

	sizeTokens := map[string]bool{}
	for _, m := range sizeRegex.FindAllStringSubmatch(norm, -1) {
		f.sizes[canonicalSize(m[1], m[2])] = true
		for _, t := range strings.Fields(m[0]) {
			sizeTokens[t] = true
		}
	}

	brandSet := map[string]bool{}
	for _, t := range f.brand {
		brandSet[t] = true
	}

	for _, t := range f.tokens {
		f.tokenSet[t] = true
		switch {
		case sizeTokens[t]:
		case isModelToken(t):
			f.models[t] = true
		case stopWords[t], brandSet[t], isNumeric(t), len(t) <= 1:
		default:
			f.core[t] = true
		}
	}
	return f
}

// isModelToken 判断型号词：字母数字混合且长度 >= 3，或至少 4 位的纯数字。
func isModelToken(t string) bool {
	var letters, digits int
	for _, r := range t {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if letters > 0 && digits > 0 {
		return len(t) >= 3
	}
	return letters == 0 && digits >= 4 && !strings.Contains(t, ".")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}

// canonicalSize 把数量换算到基本单位：ml、g、mm 或件数。
func canonicalSize(value, unit string) string {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value + unit
	}
	dim := unit
	switch unit {
	case "l", "litre", "litres", "liter", "liters":
		v, dim = v*1000, "ml"
	case "gram", "grams":
		dim = "g"
	case "kg":
		v, dim = v*1000, "g"
	case "oz":
		v, dim = v*28.3495, "g"
	case "lb", "lbs":
		v, dim = v*453.592, "g"
	case "cm":
		v, dim = v*10, "mm"
	case "m":
		v, dim = v*1000, "mm"
	case "pack", "pk", "x", "pcs", "ct":
		dim = "count"
	}
	return dim + ":" + strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

// brandScore 双方都有显式品牌时直接比较；否则检查已知品牌（或 a 标题的首个词）是否出现在另一方标题中。
func brandScore(a, b features) float64 {
	if len(a.brand) > 0 && len(b.brand) > 0 {
		if strings.Join(a.brand, " ") == strings.Join(b.brand, " ") {
			return 1
		}
		return 0
	}

	needle, hay := a.brand, b.tokenSet
	switch {
	case len(needle) > 0:
	case len(b.brand) > 0:
		needle, hay = b.brand, a.tokenSet
	case len(a.tokens) > 0:
		needle = a.tokens[:1]
	default:
		return 0
	}
	for _, t := range needle {
		if !hay[t] {
			return 0
		}
	}
	return 1
}

// setScore 计算两个集合的 Jaccard 系数，任一方为空时返回给定的固定值。
func setScore(a, b map[string]bool, bothEmpty, oneEmpty float64) float64 {
	switch {
	case len(a) == 0 && len(b) == 0:
		return bothEmpty
	case len(a) == 0 || len(b) == 0:
		return oneEmpty
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
