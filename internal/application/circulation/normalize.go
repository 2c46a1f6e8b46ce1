package circulation

import (
	"context"
	"errors"

	"github.com/xiebiao/circulation/internal/domain/inventory"
)

// normalize 把副本标识列表解析为LockSet
//
// 规则:
//  1. 空列表 → InvalidRequest
//  2. 副本ID优先;没有ID时按去空白后的条码查询,条码不存在 → NotFound(指明条码)
//  3. 既没有ID也没有条码 → InvalidRequest
//  4. 结果去重升序:同一副本出现两次与出现一次等价
func (e *Engine) normalize(ctx context.Context, refs []inventory.CopyRef) (inventory.LockSet, error) {
	if len(refs) == 0 {
		return inventory.LockSet{}, inventory.ErrEmptyBatch
	}

	// 先校验格式,避免对非法请求发起条码查询
	for _, ref := range refs {
		if ref.Kind() == inventory.RefInvalid {
			return inventory.LockSet{}, inventory.ErrInvalidCopyRef
		}
	}

	ids := make([]uint, 0, len(refs))
	resolved := make(map[string]uint) // 同一条码只查询一次
	for _, ref := range refs {
		if ref.Kind() == inventory.RefByID {
			ids = append(ids, ref.CopyID)
			continue
		}

		barcode := ref.NormalizedBarcode()
		if id, ok := resolved[barcode]; ok {
			ids = append(ids, id)
			continue
		}
		c, err := e.copies.FindByBarcode(ctx, barcode)
		if err != nil {
			if errors.Is(err, inventory.ErrBarcodeNotFound) {
				return inventory.LockSet{}, inventory.NewBarcodeNotFoundError(barcode)
			}
			return inventory.LockSet{}, err
		}
		resolved[barcode] = c.ID
		ids = append(ids, c.ID)
	}

	return inventory.NewLockSet(ids...), nil
}
