// Package fetch 把页面抓取抽象为 Fetcher：给定 URL，返回解析后的文档。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"fbahunter/internal/browser"
	"fbahunter/internal/extract"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/ratelimit"
	"fbahunter/internal/pkg/retry"
)

// Fetcher 抓取并解析一个页面。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*extract.Document, error)
}

// Domain 返回 URL 的小写 host，用于页面池的域名绑定。
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// BrowserFetcher 通过浏览器页面池抓取页面。
type BrowserFetcher struct {
	session *browser.Session
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// NewBrowserFetcher 创建浏览器抓取器。limiter 可为 nil。
func NewBrowserFetcher(session *browser.Session, limiter ratelimit.Limiter, logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BrowserFetcher{session: session, limiter: limiter, logger: logger}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*extract.Document, error) {
	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	tab, err := f.session.Acquire(ctx, Domain(rawURL))
	if err != nil {
		return nil, err
	}
	defer f.session.Release(tab)

	html, err := tab.Load(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("page loaded", slog.String("url", rawURL), slog.Int("bytes", len(html)))
	return extract.Parse(html, rawURL)
}

// Retrying 对瞬时错误按策略重试。
type Retrying struct {
	next   Fetcher
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry 包装 next，对 model.ErrNetworkTransient 重试。
func WithRetry(next Fetcher, policy retry.Policy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Fetch(ctx context.Context, rawURL string) (*extract.Document, error) {
	var doc *extract.Document
	err := retry.Do(ctx, r.policy, IsTransient, func(ctx context.Context, attempt int) error {
		d, err := r.next.Fetch(ctx, rawURL)
		if err != nil {
			if attempt+1 < r.policy.MaxAttempts && IsTransient(err) {
				r.logger.Debug("transient fetch failure, retrying",
					slog.String("url", rawURL),
					slog.Int("attempt", attempt+1),
					slog.String("error", err.Error()))
			}
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// IsTransient 判断错误是否值得重试。
func IsTransient(err error) bool {
	return errors.Is(err, model.ErrNetworkTransient)
}
