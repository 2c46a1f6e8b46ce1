package loan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xiebiao/circulation/internal/domain/catalog"
)

// QuotaPolicy 借阅额度策略(分类标签 → 上限)
// 教学要点:
// 1. 按分类标签而不是分类ID判断是否限额:新增分类只需加一行配置
// 2. 标签不在表中的分类不限额
// 3. 表中上限<=0时,使用分类行上的RuleMaxConcurrent
type QuotaPolicy struct {
	limits map[string]int
}

// NewQuotaPolicy 创建额度策略,标签统一转大写
func NewQuotaPolicy(limits map[string]int) QuotaPolicy {
	normalized := make(map[string]int, len(limits))
	for label, limit := range limits {
		normalized[strings.ToUpper(strings.TrimSpace(label))] = limit
	}
	return QuotaPolicy{limits: normalized}
}

// DefaultQuotaPolicy 默认策略:图书10本,期刊5本
func DefaultQuotaPolicy() QuotaPolicy {
	return NewQuotaPolicy(map[string]int{
		"BOOK":    10,
		"JOURNAL": 5,
	})
}

// Classify 判断分类是否限额,返回上限
func (p QuotaPolicy) Classify(category *catalog.Category) (limit int, capped bool) {
	if category == nil {
		return 0, false
	}
	limit, capped = p.limits[category.NormalizedLabel()]
	if !capped {
		return 0, false
	}
	if limit <= 0 {
		limit = category.RuleMaxConcurrent
	}
	return limit, true
}

// QuotaViolation 单个分类的超限详情
type QuotaViolation struct {
	CategoryID uint   `json:"category_id"`
	Category   string `json:"category"`
	Current    int    `json:"current"`
	Requested  int    `json:"requested"`
	Max        int    `json:"max"`
}

func (v QuotaViolation) String() string {
	return fmt.Sprintf("%s limit exceeded: current %d, requested %d, max %d",
		v.Category, v.Current, v.Requested, v.Max)
}

// Evaluate 纯函数:按分类检查 current + requested 是否超过上限
//
// 参数:
//
//	categories: 分类ID → 分类(缺失的分类视为不限额)
//	current:    分类ID → 用户当前在借数
//	requested:  分类ID → 本批次新增数
//
// 返回所有超限分类(按标签排序);为空表示通过
func (p QuotaPolicy) Evaluate(categories map[uint]*catalog.Category, current, requested map[uint]int) []QuotaViolation {
	var violations []QuotaViolation
	for categoryID, req := range requested {
		if req <= 0 {
			continue
		}
		category := categories[categoryID]
		limit, capped := p.Classify(category)
		if !capped {
			continue
		}
		cur := current[categoryID]
		if cur+req > limit {
			violations = append(violations, QuotaViolation{
				CategoryID: categoryID,
				Category:   category.NormalizedLabel(),
				Current:    cur,
				Requested:  req,
				Max:        limit,
			})
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Category != violations[j].Category {
			return violations[i].Category < violations[j].Category
		}
		return violations[i].CategoryID < violations[j].CategoryID
	})
	return violations
}
