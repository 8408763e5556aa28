// Package kv 是进度、缓存与链接表共用的键值持久化层。
//
// 键使用 "/" 分隔的层级形式（如 "progress/shop.example"），值为 JSON 文档。
// 所有后端的 Put 都是原子的：读者要么看到旧值，要么看到完整的新值。
package kv

import (
	"context"
	"fmt"
	"strings"

	"fbahunter/internal/model"
)

// Store 是键值存储接口。Get 在键不存在时返回 model.ErrNotFound。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Quarantiner 由支持隔离损坏文档的后端实现。
//
// Quarantine 把键当前的值移到旁路位置，返回该位置的描述。
type Quarantiner interface {
	Quarantine(ctx context.Context, key string) (string, error)
}

// ValidateKey 检查键是否合法：非空、无空段、无 ".." 与反斜杠。
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("kv: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("kv: invalid key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("kv: invalid key %q", key)
		}
	}
	return nil
}

// SafeSegment 把任意字符串（如域名、catalog id）转换为可作为键段的形式。
func SafeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}

func notFound(key string) error {
	return fmt.Errorf("kv: key %q: %w", key, model.ErrNotFound)
}
