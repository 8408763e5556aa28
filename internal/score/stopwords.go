package score

// stopWords 是英文常用停用词加上商品标题中的噪声词。
var stopWords = map[string]bool{
	// 英文停用词
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "by": true, "from": true, "is": true,
	"it": true, "as": true, "be": true, "was": true, "are": true,
	"x": true,
	// 规格与数量单位
	"oz": true, "fl": true, "lb": true, "lbs": true, "ml": true, "l": true,
	"g": true, "kg": true, "cm": true, "mm": true, "m": true,
	"litre": true, "litres": true, "liter": true, "liters": true,
	"gram": true, "grams": true, "ounce": true, "ounces": true,
	// 包装用语
	"pack": true, "packs": true, "count": true, "ct": true, "pk": true, "pcs": true,
	"box": true, "bag": true, "bottle": true, "bottles": true, "can": true,
	"cans": true, "carton": true, "container": true, "pouch": true, "jar": true,
	"set": true, "piece": true, "pieces": true,
	// 营销与泛化用语
	"size": true, "value": true, "each": true, "per": true, "new": true,
	"improved": true, "product": true, "genuine": true, "original": true,
	"official": true, "premium": true, "uk": true, "edition": true,
}
