// Package browsertest 提供脚本化的假浏览器驱动，供依赖 browser.Session 的包测试使用。
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"fbahunter/internal/browser"
)

var titleRe = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// Driver 是按 URL 返回预设 HTML 的假驱动。
//
// 未注册的 URL 返回一个空的列表页。页面 HTML 不含 <title> 时标题为 "fixture"，
// 避免短小的测试页面被当成空白页拦截。
type Driver struct {
	mu          sync.Mutex
	pages       map[string]string
	errs        map[string][]error
	failConnect int
	delay       time.Duration
	connects    int
	current     *conn
	navigations []string
	openPages   int
	maxOpen     int
}

// New 创建假驱动。
func New() *Driver {
	return &Driver{pages: map[string]string{}, errs: map[string][]error{}}
}

func (d *Driver) Name() string { return "fake" }

// Set 注册 url 对应的页面 HTML。
func (d *Driver) Set(url, html string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[url] = html
}

// FailNavigate 让接下来对 url 的导航依次返回 errs。
func (d *Driver) FailNavigate(url string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[url] = append(d.errs[url], errs...)
}

// FailConnects 让接下来 n 次 Connect 失败。
func (d *Driver) FailConnects(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failConnect = n
}

// SetDelay 为每次导航增加固定延迟（受 ctx 约束）。
func (d *Driver) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Drop 断开当前连接，之后该连接上的操作返回 browser.ErrDisconnected。
func (d *Driver) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.dead = true
	}
}

// Connects 返回成功建立的连接数。
func (d *Driver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Navigations 返回按顺序记录的全部导航 URL。
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// NavigationCount 返回对 url 的导航次数。
func (d *Driver) NavigationCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.navigations {
		if u == url {
			n++
		}
	}
	return n
}

// OpenPages 返回当前未关闭的页面数。
func (d *Driver) OpenPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openPages
}

// MaxOpenPages 返回同时打开页面数的峰值。
func (d *Driver) MaxOpenPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

func (d *Driver) Connect(ctx context.Context) (browser.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failConnect > 0 {
		d.failConnect--
		return nil, errors.New("fake: connect refused")
	}
	d.connects++
	d.current = &conn{d: d}
	return d.current, nil
}

type conn struct {
	d      *Driver
	dead   bool
	closed bool
}

func (c *conn) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.dead || c.closed {
		return nil, fmt.Errorf("%w: fake connection gone", browser.ErrDisconnected)
	}
	c.d.openPages++
	if c.d.openPages > c.d.maxOpen {
		c.d.maxOpen = c.d.openPages
	}
	return &page{c: c}, nil
}

func (c *conn) Alive(_ context.Context) bool {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return !c.dead && !c.closed
}

func (c *conn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.closed = true
	return nil
}

type page struct {
	c      *conn
	url    string
	closed bool
}

func (p *page) Navigate(ctx context.Context, url string) error {
	d := p.c.d
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if p.c.dead || p.c.closed {
		return fmt.Errorf("%w: fake connection gone", browser.ErrDisconnected)
	}
	d.navigations = append(d.navigations, url)
	if errs := d.errs[url]; len(errs) > 0 {
		d.errs[url] = errs[1:]
		return errs[0]
	}
	p.url = url
	return nil
}

func (p *page) HTML(_ context.Context) (string, error) {
	d := p.c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.c.dead {
		return "", fmt.Errorf("%w: fake connection gone", browser.ErrDisconnected)
	}
	if html, ok := d.pages[p.url]; ok {
		return html, nil
	}
	return `<html><head><title>empty</title></head><body></body></html>`, nil
}

func (p *page) Title(ctx context.Context) (string, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return "", err
	}
	if m := titleRe.FindStringSubmatch(html); m != nil {
		return m[1], nil
	}
	return "fixture", nil
}

func (p *page) Close() error {
	d := p.c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !p.closed {
		p.closed = true
		d.openPages--
	}
	return nil
}
