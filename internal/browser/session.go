package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"fbahunter/internal/config"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"
	"fbahunter/internal/pkg/retry"
)

const (
	healthCheckTimeout = 5 * time.Second  // 健康检查单次超时
	pageCreateTimeout  = 15 * time.Second // 页面创建超时
	pageCloseTimeout   = 3 * time.Second  // 页面关闭超时
	defaultPageTimeout = 45 * time.Second
)

// Options 配置页面池。
type Options struct {
	MaxTabs              int
	PageTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	HealthInterval       time.Duration // 0 表示不做周期性健康检查
	Logger               *slog.Logger
}

// OptionsFromConfig 从浏览器配置构造 Options。
func OptionsFromConfig(cfg config.BrowserConfig, logger *slog.Logger) Options {
	return Options{
		MaxTabs:              cfg.MaxTabs,
		PageTimeout:          cfg.PageTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.ReconnectBackoff,
		HealthInterval:       cfg.HealthInterval,
		Logger:               logger,
	}
}

// Session 持有单个浏览器连接与一个最多 MaxTabs 页的页面池。
//
// 页面释放后不关闭，按域名绑定复用。连接断开后，下一次 Acquire 透明重连并丢弃旧页面。
type Session struct {
	driver Driver
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	conn      Conn
	gen       int
	broken    bool
	closed    bool
	lastCheck time.Time
	tabs      []*Tab
	wake      chan struct{}
}

// Tab 是从 Session 借出的页面，用完必须 Release。
type Tab struct {
	s        *Session
	page     Page
	domain   string
	gen      int
	inUse    bool
	lastUsed time.Time
}

// Stats 是页面池的快照。
type Stats struct {
	Open       int
	InUse      int
	Generation int
}

// NewSession 创建页面池，连接在第一次 Acquire 时建立。
//
// 参数:
//
//	driver: 浏览器驱动（rod / chromedp / 测试用假驱动）
//	opts: 池配置，非正值使用默认
//
// 返回值:
//
//	*Session: 页面池
func NewSession(driver Driver, opts Options) *Session {
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = 1
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		driver: driver,
		opts:   opts,
		logger: opts.Logger.With(slog.String("driver", driver.Name())),
		now:    time.Now,
		wake:   make(chan struct{}),
	}
}

// Acquire 借出一个绑定到 domain 的页面。
//
// 优先复用同域名最久未用的空闲页；未达上限则新建；全部空闲但属于其他域名时替换最久未用的一页；
// 否则阻塞直到有页面释放或 ctx 结束。重连耗尽返回 model.ErrSessionUnavailable。
func (s *Session) Acquire(ctx context.Context, domain string) (*Tab, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSessionClosed
		}
		if err := s.ensureConnLocked(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}

		if t := s.idleLocked(domain); t != nil {
			s.checkoutLocked(t)
			s.mu.Unlock()
			return t, nil
		}

		if len(s.tabs) >= s.opts.MaxTabs {
			if victim := s.idleLocked(""); victim != nil {
				s.removeLocked(victim)
				closePage(victim.page)
				s.logger.Debug("replacing idle page",
					slog.String("from_domain", victim.domain),
					slog.String("to_domain", domain))
			}
		}

		if len(s.tabs) < s.opts.MaxTabs {
			t, err := s.openLocked(ctx, domain)
			if err != nil {
				s.mu.Unlock()
				return nil, err
			}
			s.mu.Unlock()
			return t, nil
		}

		wait := s.wake
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release 归还页面。页面不会关闭；连接已重建时旧页面直接丢弃。
func (s *Session) Release(t *Tab) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.inUse {
		return
	}
	t.inUse = false
	t.lastUsed = s.now()
	if t.gen != s.gen || s.closed {
		s.removeLocked(t)
		closePage(t.page)
	}
	s.updateGaugesLocked()
	s.broadcastLocked()
}

// Close 关闭所有页面与连接。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.discardLocked(true)
	s.broadcastLocked()
	s.logger.Info("browser session closed")
	return nil
}

// Stats 返回当前页面池状态。
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Open: len(s.tabs), Generation: s.gen}
	for _, t := range s.tabs {
		if t.inUse {
			st.InUse++
		}
	}
	return st
}

func (s *Session) markBroken() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

func (s *Session) ensureConnLocked(ctx context.Context) error {
	if s.conn != nil && !s.broken && s.opts.HealthInterval > 0 && s.now().Sub(s.lastCheck) >= s.opts.HealthInterval {
		hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		alive := s.conn.Alive(hctx)
		cancel()
		s.lastCheck = s.now()
		if !alive {
			s.logger.Warn("browser health check failed, reconnecting")
			s.broken = true
		}
	}
	if s.conn != nil && !s.broken {
		return nil
	}
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	first := s.conn == nil && s.gen == 0
	s.discardLocked(false)

	policy := retry.Policy{
		MaxAttempts:    s.opts.MaxReconnectAttempts,
		InitialBackoff: s.opts.ReconnectBackoff,
	}
	var conn Conn
	err := retry.Do(ctx, policy, nil, func(ctx context.Context, attempt int) error {
		c, err := s.driver.Connect(ctx)
		if err != nil {
			s.logger.Warn("browser connect failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			if !first {
				metrics.BrowserReconnectsTotal.WithLabelValues("failure").Inc()
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", model.ErrSessionUnavailable, err)
	}

	s.conn = conn
	s.gen++
	s.broken = false
	s.lastCheck = s.now()
	if first {
		s.logger.Info("browser connected")
	} else {
		metrics.BrowserReconnectsTotal.WithLabelValues("success").Inc()
		s.logger.Info("browser reconnected", slog.Int("generation", s.gen))
	}
	return nil
}

// discardLocked 丢弃当前连接。空闲页面立即关闭；借出的页面在 Release 时丢弃。
func (s *Session) discardLocked(all bool) {
	kept := s.tabs[:0]
	for _, t := range s.tabs {
		if t.inUse && !all {
			kept = append(kept, t)
			continue
		}
		closePage(t.page)
	}
	s.tabs = kept
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("close browser connection failed", slog.String("error", err.Error()))
		}
		s.conn = nil
	}
	s.updateGaugesLocked()
}

func (s *Session) openLocked(ctx context.Context, domain string) (*Tab, error) {
	for attempt := 0; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, pageCreateTimeout)
		page, err := s.conn.NewPage(pctx)
		cancel()
		if err == nil {
			t := &Tab{s: s, page: page, domain: domain, gen: s.gen}
			s.tabs = append(s.tabs, t)
			s.checkoutLocked(t)
			return t, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !isDisconnect(err) || attempt > 0 {
			return nil, fmt.Errorf("%w: create page: %v", model.ErrSessionUnavailable, err)
		}
		s.logger.Warn("page creation hit a dead connection, reconnecting", slog.String("error", err.Error()))
		if err := s.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
}

// idleLocked 返回最久未用的空闲页；domain 为空表示不限域名。
func (s *Session) idleLocked(domain string) *Tab {
	var best *Tab
	for _, t := range s.tabs {
		if t.inUse || t.gen != s.gen {
			continue
		}
		if domain != "" && t.domain != domain {
			continue
		}
		if best == nil || t.lastUsed.Before(best.lastUsed) {
			best = t
		}
	}
	return best
}

func (s *Session) checkoutLocked(t *Tab) {
	t.inUse = true
	t.lastUsed = s.now()
	s.updateGaugesLocked()
}

func (s *Session) removeLocked(t *Tab) {
	for i, x := range s.tabs {
		if x == t {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			return
		}
	}
}

func (s *Session) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Session) updateGaugesLocked() {
	inUse := 0
	for _, t := range s.tabs {
		if t.inUse {
			inUse++
		}
	}
	metrics.BrowserTabsOpen.Set(float64(len(s.tabs)))
	metrics.BrowserTabsInUse.Set(float64(inUse))
}

func closePage(p Page) {
	if p == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(pageCloseTimeout):
	}
}

// Domain 返回页面绑定的域名。
func (t *Tab) Domain() string { return t.domain }

// Navigate 在页面超时内打开 url。超时和网络错误包装为 model.ErrNetworkTransient。
func (t *Tab) Navigate(ctx context.Context, url string) error {
	nctx, cancel := context.WithTimeout(ctx, t.s.opts.PageTimeout)
	defer cancel()

	start := time.Now()
	err := t.page.Navigate(nctx, url)
	metrics.NavigationDuration.WithLabelValues(t.domain).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	return t.wrapErr(ctx, nctx, "navigate "+url, err)
}

// HTML 返回当前页面的 HTML。
func (t *Tab) HTML(ctx context.Context) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, t.s.opts.PageTimeout)
	defer cancel()
	html, err := t.page.HTML(hctx)
	if err != nil {
		return "", t.wrapErr(ctx, hctx, "read html", err)
	}
	return html, nil
}

// Load 打开 url 并返回页面 HTML。被拦截的页面返回 ErrBlocked。
func (t *Tab) Load(ctx context.Context, url string) (string, error) {
	if err := t.Navigate(ctx, url); err != nil {
		return "", err
	}
	html, err := t.HTML(ctx)
	if err != nil {
		return "", err
	}
	tctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	title, _ := t.page.Title(tctx)
	cancel()
	if kind := detectBlockType(title, html); kind != "" {
		t.s.logger.Warn("blocked page detected",
			slog.String("url", url),
			slog.String("block_type", kind),
			slog.String("title", title))
		return "", fmt.Errorf("%w: %s at %s", ErrBlocked, kind, url)
	}
	return html, nil
}

func (t *Tab) wrapErr(parent, op context.Context, what string, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", what, parentErr)
	}
	if errors.Is(op.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: page timeout after %v", what, model.ErrNetworkTransient, t.s.opts.PageTimeout)
	}
	switch classifyError(err) {
	case errClassDisconnected:
		t.s.markBroken()
		return fmt.Errorf("%s: %w: %w", what, model.ErrNetworkTransient, err)
	case errClassBlocked, errClassTimeout, errClassNetwork:
		return fmt.Errorf("%s: %w: %v", what, model.ErrNetworkTransient, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
