package model

import (
	"fmt"
	"sort"
	"time"
)

// ProcessingState 是单个供应商的可恢复进度游标。
//
// 所有游标只增不减；Reset 之外没有任何路径会让它们回退。
type ProcessingState struct {
	Supplier               string         `json:"supplier"`
	RunID                  string         `json:"run_id,omitempty"`
	Phase                  Phase          `json:"phase"`
	Categories             []CategoryNode `json:"categories,omitempty"`
	CategoryIndex          int            `json:"category_index"`
	SubcategoryIndex       int            `json:"subcategory_index"`
	PageStartIndex         int            `json:"page_start_index"`
	ProductIndexInCategory int            `json:"product_index_in_category"`
	TotalProductsSeen      int            `json:"total_products_seen"`
	TotalErrors            int            `json:"total_errors"`
	BatchNumber            int            `json:"batch_number"`
	ErrorsByKind           map[string]int `json:"errors_by_kind,omitempty"`
	ErrorsByCategory       map[string]int `json:"errors_by_category,omitempty"`
	CategoriesCompleted    []string       `json:"categories_completed"`
	StartedAt              time.Time      `json:"started_at"`
	LastUpdate             time.Time      `json:"last_update"`
}

// NewProcessingState 返回一个全新的初始进度。
func NewProcessingState(supplier string, now time.Time) *ProcessingState {
	return &ProcessingState{
		Supplier:            supplier,
		Phase:               PhaseCategories,
		CategoriesCompleted: []string{},
		ErrorsByKind:        map[string]int{},
		ErrorsByCategory:    map[string]int{},
		StartedAt:           now,
		LastUpdate:          now,
	}
}

// Validate 检查加载出来的进度是否自洽。
func (s *ProcessingState) Validate() error {
	if s == nil {
		return fmt.Errorf("state is nil")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("invalid phase %q", s.Phase)
	}
	if s.CategoryIndex < 0 || s.SubcategoryIndex < 0 || s.PageStartIndex < 0 || s.ProductIndexInCategory < 0 {
		return fmt.Errorf("negative cursor")
	}
	if s.PageStartIndex > s.ProductIndexInCategory {
		return fmt.Errorf("page start %d beyond product index %d", s.PageStartIndex, s.ProductIndexInCategory)
	}
	if s.TotalProductsSeen < 0 || s.TotalErrors < 0 || s.BatchNumber < 0 {
		return fmt.Errorf("negative counter")
	}
	if len(s.Categories) > 0 && s.CategoryIndex > len(s.Categories) {
		return fmt.Errorf("category index %d beyond %d categories", s.CategoryIndex, len(s.Categories))
	}
	return nil
}

// IsCategoryCompleted 判断分类是否已经处理完毕。
func (s *ProcessingState) IsCategoryCompleted(url string) bool {
	i := sort.SearchStrings(s.CategoriesCompleted, url)
	return i < len(s.CategoriesCompleted) && s.CategoriesCompleted[i] == url
}

// MarkCategoryCompleted 将分类加入已完成集合（保持有序、去重）。
func (s *ProcessingState) MarkCategoryCompleted(url string) {
	i := sort.SearchStrings(s.CategoriesCompleted, url)
	if i < len(s.CategoriesCompleted) && s.CategoriesCompleted[i] == url {
		return
	}
	s.CategoriesCompleted = append(s.CategoriesCompleted, "")
	copy(s.CategoriesCompleted[i+1:], s.CategoriesCompleted[i:])
	s.CategoriesCompleted[i] = url
}

// AdvanceCategory 进入下一个分类，分类内游标归零。
func (s *ProcessingState) AdvanceCategory(next int) {
	if next <= s.CategoryIndex {
		return
	}
	s.CategoryIndex = next
	s.SubcategoryIndex = 0
	s.PageStartIndex = 0
	s.ProductIndexInCategory = 0
}

// AdvanceProduct 将分类内商品游标推进到 next（只允许前进）。
func (s *ProcessingState) AdvanceProduct(next int) {
	if next > s.ProductIndexInCategory {
		s.ProductIndexInCategory = next
	}
}

// AdvancePage 记录分类内已抓取的列表页号（只允许前进）。
//
// start 是该页第一个商品链接在分类链接序列中的位置，恢复时从这一页重新分页。
func (s *ProcessingState) AdvancePage(page, start int) {
	if page > s.SubcategoryIndex {
		s.SubcategoryIndex = page
		s.PageStartIndex = start
	}
}

// ResumePage 返回恢复分页时的起始页号与该页之前的链接数。
// 没有可用的页游标时从第 1 页开始。
func (s *ProcessingState) ResumePage() (page, start int) {
	if s.SubcategoryIndex > 1 && s.PageStartIndex > 0 {
		return s.SubcategoryIndex, s.PageStartIndex
	}
	return 1, 0
}

// RecordError 按错误类型和分类累计错误计数。
func (s *ProcessingState) RecordError(kind, category string) {
	s.TotalErrors++
	if s.ErrorsByKind == nil {
		s.ErrorsByKind = map[string]int{}
	}
	s.ErrorsByKind[kind]++
	if category != "" {
		if s.ErrorsByCategory == nil {
			s.ErrorsByCategory = map[string]int{}
		}
		s.ErrorsByCategory[category]++
	}
}

// ErrorSummary 是一次运行结束时的错误汇总。
type ErrorSummary struct {
	Total      int            `json:"total"`
	ByKind     map[string]int `json:"by_kind"`
	ByCategory map[string]int `json:"by_category"`
}

// Summary 生成当前进度的错误汇总快照。
func (s *ProcessingState) Summary() ErrorSummary {
	out := ErrorSummary{Total: s.TotalErrors, ByKind: map[string]int{}, ByCategory: map[string]int{}}
	for k, v := range s.ErrorsByKind {
		out.ByKind[k] = v
	}
	for k, v := range s.ErrorsByCategory {
		out.ByCategory[k] = v
	}
	return out
}
