package walker

import (
	"context"
	"log/slog"

	"fbahunter/internal/extract"
)

// Pager 惰性地逐页返回分类下的商品链接。
type Pager struct {
	w        *Walker
	category string
	page     int
	next     string
	seen     map[string]struct{}
	done     bool
}

// Paginate 从 startPage（从 1 开始）开始分页。
func (w *Walker) Paginate(categoryURL string, startPage int) *Pager {
	if startPage < 1 {
		startPage = 1
	}
	return &Pager{
		w:        w,
		category: categoryURL,
		page:     startPage - 1,
		seen:     map[string]struct{}{},
	}
}

// Page 返回最近一次 Next 返回的页号，尚未调用时为 startPage-1。
func (p *Pager) Page() int { return p.page }

// Next 抓取下一页并返回本分页器内首次出现的商品链接。
//
// 某页没有新链接或达到 MaxPages 时返回 ErrDone。抓取错误原样返回，分页器停在当前页，可重试。
func (p *Pager) Next(ctx context.Context) ([]string, error) {
	if p.done {
		return nil, ErrDone
	}
	if p.page >= p.w.opts.MaxPages {
		p.done = true
		return nil, ErrDone
	}

	target := p.next
	if target == "" {
		target = PageURL(p.category, p.w.opts.PageParam, p.page+1)
	}
	doc, err := p.w.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	p.page++
	p.next = ""

	var fresh []string
	for _, link := range extract.ExtractLinks(doc, p.w.opts.ProductLinks) {
		if _, ok := p.seen[link]; ok {
			continue
		}
		p.seen[link] = struct{}{}
		fresh = append(fresh, link)
	}
	if len(fresh) == 0 {
		p.done = true
		p.w.logger.Debug("pagination exhausted",
			slog.String("category", p.category),
			slog.Int("page", p.page))
		return nil, ErrDone
	}

	if len(p.w.opts.NextPage) > 0 {
		links := extract.ExtractLinks(doc, p.w.opts.NextPage)
		if len(links) == 0 {
			p.done = true
		} else {
			p.next = links[0]
		}
	}
	return fresh, nil
}
