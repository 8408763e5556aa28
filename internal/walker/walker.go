// Package walker 发现供应商分类并对分类列表页分页，收集商品链接。
package walker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"fbahunter/internal/extract"
	"fbahunter/internal/fetch"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// NotProbed 表示节点没有子分类，未做探测。
const NotProbed = -1

// ErrDone 表示分页已结束。
var ErrDone = errors.New("pagination done")

// Options 配置分类遍历。
type Options struct {
	ProbeThreshold int      // 父分类探测商品数达到该值时丢弃其直接子分类
	MaxPages       int      // 单分类最大页数
	PageParam      string   // 翻页参数名
	Concurrency    int      // 探测并发度，通常等于页面池大小
	ProductLinks   []string // 列表页商品链接选择器
	NextPage       []string // 下一页链接选择器（可选，优先于 PageParam）
	Logger         *slog.Logger
	// OnProbeError 在探测失败时回调，供调用方计数。
	OnProbeError func(categoryURL string, err error)
}

// Walker 负责分类发现与分页。
type Walker struct {
	fetcher fetch.Fetcher
	opts    Options
	logger  *slog.Logger
}

// New 创建 Walker。
func New(f fetch.Fetcher, opts Options) *Walker {
	if opts.ProbeThreshold <= 0 {
		opts.ProbeThreshold = 2
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.PageParam == "" {
		opts.PageParam = "page"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Walker{fetcher: f, opts: opts, logger: opts.Logger}
}

type node struct {
	url      string
	host     string
	segments []string
	order    int
	parent   *node
	children []*node
	count    int
	dropped  bool
}

// Discover 根据 URL 路径层级建立父子关系，探测父分类并去掉冗余的子分类。
//
// 父分类探测到的商品数不少于 ProbeThreshold 时只保留父分类；否则父子都保留。
// 被丢弃节点的后代一并丢弃，它们的商品已由保留的祖先分页覆盖。
// 结果按深度升序、同深度按输入顺序排列。只有 ctx 结束时返回错误。
func (w *Walker) Discover(ctx context.Context, roots []string) ([]model.CategoryNode, error) {
	nodes := buildTree(roots)

	byDepth := map[int][]*node{}
	maxDepth := 0
	for _, n := range nodes {
		d := len(n.segments)
		byDepth[d] = append(byDepth[d], n)
		if d > maxDepth {
			maxDepth = d
		}
	}

	for depth := 0; depth <= maxDepth; depth++ {
		var parents []*node
		for _, n := range byDepth[depth] {
			if n.parent != nil && n.parent.dropped {
				n.dropped = true
			}
			if !n.dropped && len(n.children) > 0 {
				parents = append(parents, n)
			}
		}
		if len(parents) == 0 {
			continue
		}
		if err := w.probeAll(ctx, parents); err != nil {
			return nil, err
		}
		for _, p := range parents {
			if p.count >= w.opts.ProbeThreshold {
				for _, c := range p.children {
					c.dropped = true
				}
				w.logger.Info("parent category covers its children",
					slog.String("category", p.url),
					slog.Int("product_count", p.count),
					slog.Int("children_dropped", len(p.children)))
			}
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		di, dj := len(nodes[i].segments), len(nodes[j].segments)
		if di != dj {
			return di < dj
		}
		return nodes[i].order < nodes[j].order
	})

	out := make([]model.CategoryNode, 0, len(nodes))
	for _, n := range nodes {
		if n.dropped {
			continue
		}
		cn := model.CategoryNode{URL: n.url, Depth: len(n.segments), ProductCountObserved: n.count}
		if n.parent != nil {
			cn.ParentURL = n.parent.url
		}
		out = append(out, cn)
	}
	return out, nil
}

func (w *Walker) probeAll(ctx context.Context, parents []*node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, p := range parents {
		g.Go(func() error {
			p.count = w.probe(gctx, p.url)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// probe 抓取分类首页并统计商品链接数，失败记为 0
func (w *Walker) probe(ctx context.Context, categoryURL string) int {
	doc, err := w.fetcher.Fetch(ctx, categoryURL)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		w.logger.Warn("category probe failed",
			slog.String("category", categoryURL),
			slog.String("error", err.Error()))
		metrics.ObserveError(model.ErrorKind(err))
		if w.opts.OnProbeError != nil {
			w.opts.OnProbeError(categoryURL, err)
		}
		return 0
	}
	return len(extract.ExtractLinks(doc, w.opts.ProductLinks))
}

// buildTree 去重并建立直接父子关系：同 host，子路径比父路径恰好多一段
func buildTree(roots []string) []*node {
	var nodes []*node
	index := map[string]*node{}
	for _, raw := range roots {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		key := model.NormalizeURL(raw)
		if _, dup := index[key]; dup {
			continue
		}
		n := &node{
			url:      raw,
			host:     strings.ToLower(u.Host),
			segments: pathSegments(u.Path),
			order:    len(nodes),
			count:    NotProbed,
		}
		index[key] = n
		nodes = append(nodes, n)
	}

	byPath := map[string]*node{}
	for _, n := range nodes {
		k := n.host + "/" + strings.Join(n.segments, "/")
		if _, exists := byPath[k]; !exists {
			byPath[k] = n
		}
	}
	for _, n := range nodes {
		if len(n.segments) == 0 {
			continue
		}
		k := n.host + "/" + strings.Join(n.segments[:len(n.segments)-1], "/")
		if p, ok := byPath[k]; ok && p != n {
			n.parent = p
			p.children = append(p.children, n)
		}
	}
	return nodes
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PageURL 构造分类的第 page 页地址，第 1 页即分类地址本身。
func PageURL(categoryURL, param string, page int) string {
	if page <= 1 {
		return categoryURL
	}
	u, err := url.Parse(categoryURL)
	if err != nil {
		return categoryURL
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
