// Package report 输出利润分析结果：CSV 文件、MySQL 历史表与邮件摘要。
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fbahunter/internal/model"
)

// Report 是一次运行的全部评估结果。Records 包含未达标的记录。
type Report struct {
	RunID       string
	Supplier    string
	GeneratedAt time.Time
	Records     []model.ProfitRecord
	Errors      model.ErrorSummary
}

// Profitable 返回达标记录，保持原有顺序。
func (r *Report) Profitable() []model.ProfitRecord {
	var out []model.ProfitRecord
	for _, rec := range r.Records {
		if rec.Profitable {
			out = append(out, rec)
		}
	}
	return out
}

// Sink 是报表输出目标。
type Sink interface {
	Name() string
	Write(ctx context.Context, r *Report) error
}

// MultiSink 依次写入全部目标。单个目标失败不影响其余目标，错误合并返回。
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMultiSink 创建组合输出。nil 目标被忽略。
func NewMultiSink(logger *slog.Logger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Name() string { return "multi" }

// Len 返回目标数量。
func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) Write(ctx context.Context, r *Report) error {
	var errs []error
	for _, s := range m.sinks {
		start := time.Now()
		if err := s.Write(ctx, r); err != nil {
			m.logger.Error("report sink failed",
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.logger.Info("report written",
			slog.String("sink", s.Name()),
			slog.Int("records", len(r.Records)),
			slog.Duration("elapsed", time.Since(start)))
	}
	return errors.Join(errs...)
}
