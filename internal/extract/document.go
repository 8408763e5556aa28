// Package extract 从页面 HTML 快照中按声明式选择器抽取字段。
//
// 选择器写法为 "css" 或 "css@attr"：前者取元素文本，后者取属性值；
// 单独的 "@attr" 取当前作用域元素自身的属性。每个字段配置一组按顺序尝试的选择器。
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var attrNameRe = regexp.MustCompile(`^[a-zA-Z_:][-a-zA-Z0-9_:.]*$`)

// Document 是解析后的页面。
type Document struct {
	Scope
	url  *url.URL
	html string
}

// Scope 是选择器的求值范围（整页或某个结果卡片）。
type Scope struct {
	sel *goquery.Selection
}

// Parse 解析页面 HTML，pageURL 用于补全相对链接。
func Parse(html, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	return &Document{Scope: Scope{sel: doc.Selection}, url: u, html: html}, nil
}

// URL 返回页面地址。
func (d *Document) URL() string { return d.url.String() }

// HTML 返回原始 HTML。
func (d *Document) HTML() string { return d.html }

// Title 返回 <title> 文本。
func (d *Document) Title() string {
	return cleanText(d.sel.Find("title").First().Text())
}

// Resolve 把相对地址转换为绝对地址。
func (d *Document) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return d.url.ResolveReference(r).String()
}

// splitSelector 拆分 "css@attr"。'@' 必须出现在最后一个 ']' 之后，且其后是合法属性名。
func splitSelector(s string) (css, attr string) {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	if at < 0 || at < strings.LastIndex(s, "]") {
		return s, ""
	}
	name := strings.TrimSpace(s[at+1:])
	if !attrNameRe.MatchString(name) {
		return s, ""
	}
	return strings.TrimSpace(s[:at]), name
}

func (s Scope) value(sel *goquery.Selection, attr string) string {
	if attr == "" {
		return cleanText(sel.Text())
	}
	v, _ := sel.Attr(attr)
	return strings.TrimSpace(v)
}

// First 依次尝试选择器，返回第一个非空值。
func (s Scope) First(selectors []string) string {
	if s.sel == nil {
		return ""
	}
	for _, raw := range selectors {
		css, attr := splitSelector(raw)
		var target *goquery.Selection
		if css == "" {
			target = s.sel.First()
		} else {
			target = s.sel.Find(css)
		}
		found := ""
		target.EachWithBreak(func(_ int, el *goquery.Selection) bool {
			found = s.value(el, attr)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// All 返回第一个有命中的选择器的全部非空值。
func (s Scope) All(selectors []string) []string {
	if s.sel == nil {
		return nil
	}
	for _, raw := range selectors {
		css, attr := splitSelector(raw)
		if css == "" {
			continue
		}
		var out []string
		s.sel.Find(css).Each(func(_ int, el *goquery.Selection) {
			if v := s.value(el, attr); v != "" {
				out = append(out, v)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// Exists 判断任一选择器是否命中元素。
func (s Scope) Exists(selectors []string) bool {
	if s.sel == nil {
		return false
	}
	for _, raw := range selectors {
		css, _ := splitSelector(raw)
		if css != "" && s.sel.Find(css).Length() > 0 {
			return true
		}
	}
	return false
}

// Each 返回第一个有命中的容器选择器下的各个子作用域。
func (s Scope) Each(selectors []string) []Scope {
	if s.sel == nil {
		return nil
	}
	for _, raw := range selectors {
		css, _ := splitSelector(raw)
		if css == "" {
			continue
		}
		found := s.sel.Find(css)
		if found.Length() == 0 {
			continue
		}
		out := make([]Scope, 0, found.Length())
		found.Each(func(_ int, el *goquery.Selection) {
			out = append(out, Scope{sel: el})
		})
		return out
	}
	return nil
}

// Text 返回作用域内的全部文本。
func (s Scope) Text() string {
	if s.sel == nil {
		return ""
	}
	return cleanText(s.sel.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
