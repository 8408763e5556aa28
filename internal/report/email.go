package report

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"

	"fbahunter/internal/config"
	"fbahunter/internal/model"
	"fbahunter/internal/pkg/dedup"

	"gopkg.in/gomail.v2"
)

// EmailSink 把达标记录汇总成一封邮件。已在去重窗口内通知过的记录不再发送。
type EmailSink struct {
	cfg     config.EmailConfig
	to      string
	deduper dedup.Deduper
	logger  *slog.Logger
	send    func(m *gomail.Message) error
}

// NewEmailSink 创建邮件输出。
//
// 参数:
//
//	cfg: SMTP 配置
//	to: 收件人
//	deduper: 通知去重，可为 nil
//	logger: 日志记录器
func NewEmailSink(cfg config.EmailConfig, to string, deduper dedup.Deduper, logger *slog.Logger) *EmailSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &EmailSink{cfg: cfg, to: to, deduper: deduper, logger: logger}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return s
}

// WithSender 替换实际的发信方式。
func (s *EmailSink) WithSender(sender gomail.Sender) *EmailSink {
	s.send = func(m *gomail.Message) error { return gomail.Send(sender, m) }
	return s
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Write(ctx context.Context, r *Report) error {
	if s.cfg.SMTPHost == "" || s.cfg.FromEmail == "" {
		s.logger.Warn("email config missing, skip report")
		return nil
	}
	if strings.TrimSpace(s.to) == "" {
		s.logger.Warn("email recipient empty, skip report")
		return nil
	}

	deals, err := s.fresh(ctx, r.Profitable())
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		s.logger.Info("no new profitable products, skip email")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", s.to)
	m.SetHeader("Subject", fmt.Sprintf("[fbahunter] %s: %d profitable products", r.Supplier, len(deals)))
	m.SetBody("text/html", buildHTMLBody(r, deals))

	if err := s.send(m); err != nil {
		// 发送失败时撤销去重标记，下次运行重发
		for _, d := range deals {
			_ = s.forget(ctx, d)
		}
		return fmt.Errorf("send email: %w", err)
	}
	s.logger.Info("report email sent", slog.String("to", s.to), slog.Int("deals", len(deals)))
	return nil
}

func dedupKey(rec model.ProfitRecord) string {
	return rec.SupplierKey + "|" + rec.CatalogID
}

func (s *EmailSink) fresh(ctx context.Context, recs []model.ProfitRecord) ([]model.ProfitRecord, error) {
	if s.deduper == nil {
		return recs, nil
	}
	var out []model.ProfitRecord
	for _, rec := range recs {
		dup, err := s.deduper.IsDuplicate(ctx, dedupKey(rec))
		if err != nil {
			return nil, fmt.Errorf("dedup %s: %w", rec.SupplierKey, err)
		}
		if !dup {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *EmailSink) forget(ctx context.Context, rec model.ProfitRecord) error {
	if s.deduper == nil {
		return nil
	}
	return s.deduper.Delete(ctx, dedupKey(rec))
}

func buildHTMLBody(r *Report, deals []model.ProfitRecord) string {
	var rows strings.Builder
	for _, d := range deals {
		fmt.Fprintf(&rows, `<tr><td><a href="%s">%s</a></td><td>%s</td><td><a href="%s">%s</a></td><td>%s</td><td>%s</td><td>%s%%</td></tr>`,
			html.EscapeString(d.SupplierURL), html.EscapeString(d.SupplierTitle), money(d.SupplierPrice),
			html.EscapeString(d.MarketplaceURL), html.EscapeString(d.CatalogID), money(d.SellingPrice),
			money(d.NetProfit), money(d.ROI))
		rows.WriteString("\n")
	}

	template := `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 760px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  table { width: 100%%; border-collapse: collapse; font-size: 13px; }
  td, th { border-bottom: 1px solid #e5e7eb; padding: 6px; text-align: left; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[fbahunter] %s</div>
    <div class="content">
      <table>
        <tr><th>Supplier product</th><th>Cost</th><th>Listing</th><th>Price</th><th>Net</th><th>ROI</th></tr>
%s      </table>
      <div class="footer">run %s, %d evaluated, %d errors</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template, html.EscapeString(r.Supplier), rows.String(), html.EscapeString(r.RunID), len(r.Records), r.Errors.Total)
}
