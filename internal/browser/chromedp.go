package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"fbahunter/internal/config"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver 通过 chromedp 的进程分配器启动浏览器，每个页面是一个 tab context。
type ChromedpDriver struct {
	cfg    config.BrowserConfig
	logger *slog.Logger
}

// NewChromedpDriver 创建 chromedp 驱动。
func NewChromedpDriver(cfg config.BrowserConfig, logger *slog.Logger) *ChromedpDriver {
	return &ChromedpDriver{cfg: cfg, logger: logger}
}

func (d *ChromedpDriver) Name() string { return "chromedp" }

func (d *ChromedpDriver) Connect(ctx context.Context) (Conn, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if d.cfg.BinPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.BinPath))
	}
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	if d.cfg.ProxyURL != "" {
		parsed, err := url.Parse(d.cfg.ProxyURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", d.cfg.ProxyURL)
		}
		opts = append(opts, chromedp.ProxyServer(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// 启动期间 ctx 结束则中止启动；启动成功后连接不再受 ctx 约束
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chromedp browser: %w", err)
	}
	d.logger.Info("browser started")
	return &chromedpConn{
		cfg:           d.cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

type chromedpConn struct {
	cfg           config.BrowserConfig
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func (c *chromedpConn) NewPage(ctx context.Context) (Page, error) {
	if c.browserCtx.Err() != nil {
		return nil, ErrDisconnected
	}
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	p := &chromedpPage{ctx: tabCtx, cancel: cancel, conn: c}
	actions := []chromedp.Action{network.Enable()}
	if len(c.cfg.BlockedURLs) > 0 {
		actions = append(actions, network.SetBlockedURLS(c.cfg.BlockedURLs))
	}
	if err := p.run(ctx, actions...); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

func (c *chromedpConn) Alive(ctx context.Context) bool {
	if c.browserCtx.Err() != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(c.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	var v int
	return chromedp.Run(runCtx, chromedp.Evaluate(`1`, &v)) == nil
}

func (c *chromedpConn) Close() error {
	c.browserCancel()
	c.allocCancel()
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *chromedpConn
}

// run 在 tab context 上执行动作，同时受调用方 ctx 的取消与超时约束
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	if p.conn.browserCtx.Err() != nil || p.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return mapDriverErr(err)
}

func (p *chromedpPage) Navigate(ctx context.Context, rawURL string) error {
	return p.run(ctx, chromedp.Navigate(rawURL))
}

func (p *chromedpPage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

// NewDriver 按名称创建驱动：rod（默认）或 chromedp。
func NewDriver(cfg config.BrowserConfig, logger *slog.Logger) (Driver, error) {
	switch cfg.Driver {
	case "", "rod":
		return NewRodDriver(cfg, logger), nil
	case "chromedp":
		return NewChromedpDriver(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
