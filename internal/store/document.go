// Package store 实现进度、供应商缓存、平台缓存和链接表四类持久化文档。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"fbahunter/internal/kv"
	"fbahunter/internal/model"
)

// loadDocument 读取并解码 JSON 文档。
//
// 返回 (false, nil) 表示文档不存在；解码或 validate 失败时隔离原文档并返回
// 包装了 model.ErrStateCorruption 的错误。
func loadDocument(ctx context.Context, s kv.Store, logger *slog.Logger, key string, v any, validate func() error) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	decodeErr := json.Unmarshal(data, v)
	if decodeErr == nil && validate != nil {
		decodeErr = validate()
	}
	if decodeErr == nil {
		return true, nil
	}

	where := ""
	if q, ok := s.(kv.Quarantiner); ok {
		if moved, qErr := q.Quarantine(ctx, key); qErr == nil {
			where = moved
		} else {
			logger.Warn("quarantine corrupt document failed",
				slog.String("key", key),
				slog.String("error", qErr.Error()))
		}
	}
	logger.Warn("corrupt document discarded",
		slog.String("key", key),
		slog.String("quarantined_to", where),
		slog.String("error", decodeErr.Error()))
	return false, fmt.Errorf("%s: %w: %v", key, model.ErrStateCorruption, decodeErr)
}

func saveDocument(ctx context.Context, s kv.Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
