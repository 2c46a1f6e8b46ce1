package catalog

import (
	"context"
)

// Repository 书目仓储接口(借还流程只读)
type Repository interface {
	// FindCategories 批量查询分类,不存在的ID不会出现在结果中
	// 缺失的分类在额度计算中按"不限额"处理
	FindCategories(ctx context.Context, ids []uint) (map[uint]*Category, error)
}
