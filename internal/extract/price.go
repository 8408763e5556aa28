package extract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNoPrice = errors.New("no price found")

	// 空白、不换行空格与撇号只能分隔恰好三位的数字组
	priceTokenRe = regexp.MustCompile(`(?:\d{1,3}(?:['\s\x{00A0}\x{202F}]\d{3}\b)+|\d+)(?:[.,]\d+)*`)
	decimalTail  = regexp.MustCompile(`[.,](\d{1,2})$`)

	currencyMarks = []string{"£", "$", "€", "¥", "₹", "CHF", "EUR", "GBP", "USD", "zł", "kr"}
)

// ParsePrice 把带货币符号和本地化分隔符的价格文本解析为数值。
//
// 最后一个 '.' 或 ','，若其后只有 1 到 2 位数字，视为小数点；其余分隔符视为千位分隔。
// "£1,299.99"、"1.299,99 €"、"12,5" 分别得到 1299.99、1299.99、12.5。
// 文本中有多个数字时，取第一个紧邻货币符号的；没有货币符号时取第一个。
func ParsePrice(raw string) (float64, error) {
	token := pickPriceToken(raw)
	if token == "" {
		return 0, fmt.Errorf("%w in %q", ErrNoPrice, raw)
	}

	intPart, frac := token, ""
	if m := decimalTail.FindStringSubmatchIndex(token); m != nil {
		intPart, frac = token[:m[0]], token[m[2]:m[3]]
	}
	intPart = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, intPart)
	if intPart == "" {
		intPart = "0"
	}

	num := intPart
	if frac != "" {
		num += "." + frac
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse price %q: %w", raw, ErrNoPrice)
	}
	return v, nil
}

func pickPriceToken(raw string) string {
	locs := priceTokenRe.FindAllStringIndex(raw, -1)
	if len(locs) == 0 {
		return ""
	}
	for _, loc := range locs {
		before := strings.TrimRight(raw[:loc[0]], " \t\u00a0\u202f")
		after := strings.TrimLeft(raw[loc[1]:], " \t\u00a0\u202f")
		for _, mark := range currencyMarks {
			if strings.HasSuffix(before, mark) || strings.HasPrefix(after, mark) {
				return raw[loc[0]:loc[1]]
			}
		}
	}
	return raw[locs[0][0]:locs[0][1]]
}
