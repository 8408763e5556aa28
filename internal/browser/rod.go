package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"fbahunter/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodDriver 通过 go-rod 启动本地 Chromium。
type RodDriver struct {
	cfg    config.BrowserConfig
	logger *slog.Logger
}

// NewRodDriver 创建 rod 驱动。
func NewRodDriver(cfg config.BrowserConfig, logger *slog.Logger) *RodDriver {
	return &RodDriver{cfg: cfg, logger: logger}
}

func (d *RodDriver) Name() string { return "rod" }

// Connect 启动浏览器进程并建立 CDP 连接。
func (d *RodDriver) Connect(ctx context.Context) (Conn, error) {
	bin := d.cfg.BinPath
	if bin == "" {
		d.logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	// 针对容器环境的 Flag 优化
	l := launcher.New().
		Headless(d.cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if d.cfg.ProxyURL != "" {
		parsed, err := url.Parse(d.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", d.cfg.ProxyURL)
		}
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			proxyPass, _ = parsed.User.Password()
		}
		l = l.Proxy(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
		d.logger.Info("using http proxy",
			slog.String("server", parsed.Host),
			slog.String("auth_user", proxyUser))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	// 连接建立后脱离 ctx，生命周期由 Close 控制
	b = b.Context(context.Background())
	if proxyUser != "" {
		go b.MustHandleAuth(proxyUser, proxyPass)()
		d.logger.Info("proxy authentication handler registered")
	}

	d.logger.Info("browser started", slog.String("bin", bin))
	return &rodConn{browser: b, launcher: l, cfg: d.cfg, logger: d.logger}, nil
}

type rodConn struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      config.BrowserConfig
	logger   *slog.Logger
}

func (c *rodConn) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, mapDriverErr(err)
	}
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script: %w", mapDriverErr(err))
	}
	if len(c.cfg.BlockedURLs) > 0 {
		if err := (proto.NetworkSetBlockedURLs{Urls: c.cfg.BlockedURLs}).Call(page); err != nil {
			c.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
		}
	}
	if c.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.cfg.UserAgent}); err != nil {
			c.logger.Warn("set user agent failed", slog.String("error", err.Error()))
		}
	}
	return &rodPage{page: page.Context(context.Background())}, nil
}

func (c *rodConn) Alive(ctx context.Context) bool {
	_, err := c.browser.Context(ctx).Version()
	return err == nil
}

func (c *rodConn) Close() error {
	err := c.browser.Close()
	c.launcher.Kill()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, rawURL string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(rawURL); err != nil {
		return mapDriverErr(err)
	}
	if err := pg.WaitLoad(); err != nil {
		return mapDriverErr(err)
	}
	return nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", mapDriverErr(err)
	}
	return html, nil
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", mapDriverErr(err)
	}
	return info.Title, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// mapDriverErr 把连接断开类错误统一包装为 ErrDisconnected
func mapDriverErr(err error) error {
	if err == nil {
		return nil
	}
	if isDisconnect(err) {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return err
}
