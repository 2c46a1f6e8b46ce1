package catalog

import (
	"strings"
)

// Category 图书分类(借阅规则的载体)
// 教学要点:
// 1. Label用于额度分类(见loan.QuotaPolicy),新增分类只需改数据/配置
// 2. RuleMaxConcurrent: 同一用户该分类下同时在借的上限
// 3. RuleLoanPeriodDays: 该分类的借期(0表示使用系统默认借期)
type Category struct {
	ID                 uint
	Label              string
	RuleMaxConcurrent  int
	RuleLoanPeriodDays int
}

// NormalizedLabel 统一为大写,与额度策略的键比较
func (c *Category) NormalizedLabel() string {
	return strings.ToUpper(strings.TrimSpace(c.Label))
}
