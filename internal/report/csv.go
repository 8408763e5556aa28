package report

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"fbahunter/internal/model"
	"fbahunter/internal/profit"
)

// CSVHeader 是 CSV 报表的列。
var CSVHeader = []string{
	"supplier_key", "supplier_title", "supplier_url", "identifier_code", "supplier_price",
	"catalog_id", "marketplace_url", "listing_title", "marketplace_price",
	"referral_fee", "fulfillment_fee", "prep_fee", "closing_fee", "vat", "total_fees",
	"net_profit", "roi_percent", "match_type", "confidence", "profitable",
}

// errorRowTag 标记报表末尾的错误汇总行。
const errorRowTag = "#error"

// CSVSink 把全部记录写入 CSV 文件。先写临时文件再 rename，读者不会看到半个文件。
type CSVSink struct {
	path string
}

// NewCSVSink 创建 CSV 输出。
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := writeCSV(bw, r); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

func writeCSV(w *bufio.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range r.Records {
		if err := cw.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write row %s: %w", rec.SupplierKey, err)
		}
	}
	for _, row := range errorRows(r.Errors) {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write error summary: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func money(v float64) string {
	return strconv.FormatFloat(profit.Round2(v), 'f', 2, 64)
}

func csvRow(r model.ProfitRecord) []string {
	return []string{
		r.SupplierKey, r.SupplierTitle, r.SupplierURL, r.IdentifierCode, money(r.SupplierPrice),
		r.CatalogID, r.MarketplaceURL, r.ListingTitle, money(r.SellingPrice),
		money(r.Fees.Referral), money(r.Fees.Fulfillment), money(r.Fees.Prep), money(r.Fees.Closing),
		money(r.Fees.VAT), money(r.Fees.Total),
		money(r.NetProfit), money(r.ROI), string(r.MatchType),
		strconv.FormatFloat(r.Confidence, 'f', 3, 64), strconv.FormatBool(r.Profitable),
	}
}

// errorRows 按 kind 与 category 排序输出错误汇总：#error,kind|category,名称,次数。
func errorRows(sum model.ErrorSummary) [][]string {
	if sum.Total == 0 {
		return nil
	}
	rows := [][]string{{errorRowTag, "total", "", strconv.Itoa(sum.Total)}}
	for _, k := range sortedKeys(sum.ByKind) {
		rows = append(rows, []string{errorRowTag, "kind", k, strconv.Itoa(sum.ByKind[k])})
	}
	for _, k := range sortedKeys(sum.ByCategory) {
		rows = append(rows, []string{errorRowTag, "category", k, strconv.Itoa(sum.ByCategory[k])})
	}
	return rows
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
