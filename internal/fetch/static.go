package fetch

import (
	"context"
	"sync"

	"fbahunter/internal/extract"
)

// Static 是按 URL 返回固定 HTML 的 Fetcher，用于测试与离线回放。
type Static struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string][]error
	calls map[string]int
}

// NewStatic 创建空的 Static 抓取器。
func NewStatic() *Static {
	return &Static{pages: map[string]string{}, errs: map[string][]error{}, calls: map[string]int{}}
}

// Set 注册页面。
func (s *Static) Set(rawURL, html string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rawURL] = html
	return s
}

// Fail 让接下来对 rawURL 的抓取依次返回 errs。
func (s *Static) Fail(rawURL string, errs ...error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[rawURL] = append(s.errs[rawURL], errs...)
	return s
}

// Calls 返回 rawURL 被抓取的次数。
func (s *Static) Calls(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[rawURL]
}

// TotalCalls 返回全部抓取次数。
func (s *Static) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Static) Fetch(ctx context.Context, rawURL string) (*extract.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls[rawURL]++
	if errs := s.errs[rawURL]; len(errs) > 0 {
		s.errs[rawURL] = errs[1:]
		s.mu.Unlock()
		return nil, errs[0]
	}
	html, ok := s.pages[rawURL]
	s.mu.Unlock()
	if !ok {
		html = "<html><body></body></html>"
	}
	return extract.Parse(html, rawURL)
}
