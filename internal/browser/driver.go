// Package browser 管理一个可复用的无头浏览器连接，并以有限的页面池对外提供可导航的页面。
package browser

import (
	"context"
	"errors"
	"fmt"

	"fbahunter/internal/model"
)

var (
	// ErrDisconnected 由 Driver 实现返回，表示底层连接已断开，下一次 Acquire 会重连。
	ErrDisconnected = errors.New("browser connection lost")
	// ErrBlocked 表示页面被拦截（Cloudflare、验证码、403/429），按瞬时错误处理。
	ErrBlocked = fmt.Errorf("%w: blocked page", model.ErrNetworkTransient)
	// ErrSessionClosed 表示会话已关闭。
	ErrSessionClosed = fmt.Errorf("%w: session closed", model.ErrSessionUnavailable)
)

// Driver 建立浏览器连接。
type Driver interface {
	Name() string
	Connect(ctx context.Context) (Conn, error)
}

// Conn 是一个活动的浏览器连接。
type Conn interface {
	NewPage(ctx context.Context) (Page, error)
	Alive(ctx context.Context) bool
	Close() error
}

// Page 是浏览器中的一个标签页。
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Close() error
}
