package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// CategoryRanker 提供按优先级排序的分类入口 URL。
type CategoryRanker interface {
	Rank(ctx context.Context) ([]string, error)
}

// StaticRanker 返回配置中的固定列表。
type StaticRanker []string

func (r StaticRanker) Rank(context.Context) ([]string, error) {
	return cleanURLs(r), nil
}

// FileRanker 读取外部分类排序步骤产出的 JSON 文件。
//
// 支持两种格式：URL 字符串数组，或 {"url": ..., "score": ...} 对象数组（按 score 降序，同分保持原顺序）。
type FileRanker struct {
	Path string
}

type rankedCategory struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

func (r FileRanker) Rank(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read category ranking: %w", err)
	}
	return parseRanking(data)
}

func parseRanking(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		return cleanURLs(plain), nil
	}
	var ranked []rankedCategory
	if err := json.Unmarshal(data, &ranked); err != nil {
		return nil, fmt.Errorf("parse category ranking: %w", err)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	urls := make([]string, 0, len(ranked))
	for _, c := range ranked {
		urls = append(urls, c.URL)
	}
	return cleanURLs(urls), nil
}

// cleanURLs 去掉空白项与重复项，保持顺序。
func cleanURLs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
