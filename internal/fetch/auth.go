package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"fbahunter/internal/extract"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/breaker"
)

// AuthGuard 校验供应商页面上的登录态标志。
//
// 标志缺失时重抓 maxAttempts 次；仍缺失则熔断器打开，冷却期内所有请求返回 model.ErrCircuitOpen。
type AuthGuard struct {
	next        Fetcher
	indicators  []string
	maxAttempts int
	breaker     *breaker.Breaker
	logger      *slog.Logger
}

// NewAuthGuard 创建登录态校验器。indicators 为空时直接透传。
//
// 参数:
//
//	next: 实际抓取器
//	indicators: 登录后才会出现的元素选择器
//	maxAttempts: 单个页面的最大尝试次数
//	b: 熔断器（应配置 Threshold=1、Cooldown=供应商冷却时间）
//	logger: 日志记录器
func NewAuthGuard(next Fetcher, indicators []string, maxAttempts int, b *breaker.Breaker, logger *slog.Logger) *AuthGuard {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &AuthGuard{next: next, indicators: indicators, maxAttempts: maxAttempts, breaker: b, logger: logger}
}

func (g *AuthGuard) Fetch(ctx context.Context, rawURL string) (*extract.Document, error) {
	if len(g.indicators) == 0 {
		return g.next.Fetch(ctx, rawURL)
	}
	if err := g.breaker.Allow(ctx); err != nil {
		return nil, fmt.Errorf("supplier requests suspended: %w", err)
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		doc, err := g.next.Fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if doc.Exists(g.indicators) {
			g.breaker.Success(ctx)
			return doc, nil
		}
		g.logger.Warn("login indicator missing",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt))
	}

	g.breaker.Failure(ctx)
	return nil, fmt.Errorf("%w: login indicator missing on %s after %d attempts", model.ErrAuthenticationFailure, rawURL, g.maxAttempts)
}
