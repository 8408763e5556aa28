package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"fbahunter/internal/extract"
)

// SelectorProvider 按站点域名提供选择器配置。
type SelectorProvider interface {
	Selectors(ctx context.Context, domain string) (extract.SiteSelectors, error)
}

// StaticSelectors 是内存中的域名到选择器映射。
type StaticSelectors map[string]extract.SiteSelectors

func (s StaticSelectors) Selectors(_ context.Context, domain string) (extract.SiteSelectors, error) {
	sel, ok := s[strings.ToLower(domain)]
	if !ok {
		return extract.SiteSelectors{}, fmt.Errorf("no selectors for %s", domain)
	}
	return sel, nil
}

// FileSelectors 从每个域名各自的 JSON 文件读取选择器，读取结果按域名缓存。
type FileSelectors struct {
	paths map[string]string

	mu     sync.Mutex
	loaded map[string]extract.SiteSelectors
}

// NewFileSelectors 创建基于文件的选择器来源。paths 为域名到文件路径的映射。
func NewFileSelectors(paths map[string]string) *FileSelectors {
	norm := make(map[string]string, len(paths))
	for d, p := range paths {
		norm[strings.ToLower(d)] = p
	}
	return &FileSelectors{paths: norm, loaded: map[string]extract.SiteSelectors{}}
}

func (f *FileSelectors) Selectors(ctx context.Context, domain string) (extract.SiteSelectors, error) {
	if err := ctx.Err(); err != nil {
		return extract.SiteSelectors{}, err
	}
	domain = strings.ToLower(domain)

	f.mu.Lock()
	defer f.mu.Unlock()
	if sel, ok := f.loaded[domain]; ok {
		return sel, nil
	}
	path, ok := f.paths[domain]
	if !ok || path == "" {
		return extract.SiteSelectors{}, fmt.Errorf("no selector file for %s", domain)
	}
	sel, err := LoadSelectorFile(path)
	if err != nil {
		return extract.SiteSelectors{}, err
	}
	f.loaded[domain] = sel
	return sel, nil
}

// LoadSelectorFile 读取单个站点的选择器 JSON。
func LoadSelectorFile(path string) (extract.SiteSelectors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extract.SiteSelectors{}, fmt.Errorf("read selectors: %w", err)
	}
	var sel extract.SiteSelectors
	if err := json.Unmarshal(data, &sel); err != nil {
		return extract.SiteSelectors{}, fmt.Errorf("parse selectors %s: %w", path, err)
	}
	return sel, nil
}
