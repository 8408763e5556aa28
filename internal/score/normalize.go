package score

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// 预编译的正则
var (
	// 数字之间的小数点保留，"1.7l" 归一化后不变
	tokenRegex      = regexp.MustCompile(`[a-z0-9]+(?:\.[0-9]+)?[a-z]*`)
	nonTokenRegex   = regexp.MustCompile(`[^a-z0-9.]+`)
	strayDotRegex   = regexp.MustCompile(`(^|[^0-9])\.|\.([^0-9]|$)`)
	joinedHyphenRe  = regexp.MustCompile(`([a-z0-9])-([a-z0-9])`)
	multipleSpaceRe = regexp.MustCompile(`\s+`)
)

// Fold 转小写并去掉变音符号（"Crème Brûlée" -> "creme brulee"）。
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return result
}

// Normalize 对 s 做 Fold，并把标点替换为单个空格。数字之间的小数点保留。
func Normalize(s string) string {
	s = Fold(s)
	// "WK-1020" 与 "WK1020" 视为同一型号
	for joinedHyphenRe.MatchString(s) {
		s = joinedHyphenRe.ReplaceAllString(s, "$1$2")
	}
	s = nonTokenRegex.ReplaceAllString(s, " ")
	for strayDotRegex.MatchString(s) {
		s = strayDotRegex.ReplaceAllString(s, "$1 $2")
	}
	s = multipleSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokens 按出现顺序把 s 切分为归一化后的词。
func Tokens(s string) []string {
	return tokenRegex.FindAllString(Normalize(s), -1)
}

// QueryText 取标题前 maxWords 个归一化词作为平台搜索词，maxWords <= 0 时保留全部。
func QueryText(title string, maxWords int) string {
	tokens := Tokens(title)
	if maxWords > 0 && len(tokens) > maxWords {
		tokens = tokens[:maxWords]
	}
	return strings.Join(tokens, " ")
}
