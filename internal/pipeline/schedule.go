package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Every 立即执行一次 run，之后每隔 interval 再执行一次，直到 ctx 结束。
//
// run 之间不会重叠：执行耗时超过 interval 时跳过积压的 tick。
// run 返回 ErrFatal 时停止并返回该错误；其他错误只记录日志。
// interval 非正时只运行一次并返回其结果。
func Every(ctx context.Context, interval time.Duration, logger *slog.Logger, run func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		return run(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		start := time.Now()
		err := run(ctx)
		switch {
		case err == nil:
			logger.Info("scheduled run completed",
				slog.Int("round", round),
				slog.String("elapsed", time.Since(start).String()))
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrFatal):
			return err
		default:
			logger.Error("scheduled run failed",
				slog.Int("round", round),
				slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
