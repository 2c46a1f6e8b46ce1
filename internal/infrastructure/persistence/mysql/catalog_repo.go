package mysql

import (
	"context"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/xiebiao/circulation/internal/domain/catalog"
)

// catalogRepository 书目仓储实现(借还流程只读)
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository 创建书目仓储
func NewCatalogRepository(db *gorm.DB) catalog.Repository {
	return &catalogRepository{db: db}
}

// FindCategories 批量查询分类
func (r *catalogRepository) FindCategories(ctx context.Context, ids []uint) (map[uint]*catalog.Category, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return map[uint]*catalog.Category{}, nil
	}

	var models []CategoryModel
	if err := getDB(ctx, r.db).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, translateError(err, "查询图书分类失败")
	}

	result := make(map[uint]*catalog.Category, len(models))
	for _, m := range models {
		result[m.ID] = &catalog.Category{
			ID:                 m.ID,
			Label:              m.Category,
			RuleMaxConcurrent:  m.RuleMaxConcurrent,
			RuleLoanPeriodDays: m.RuleLoanPeriodDays,
		}
	}
	return result, nil
}
