package inventory

import (
	"fmt"

	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

// 馆藏领域错误定义
var (
	// ErrCopyNotFound 副本不存在
	ErrCopyNotFound = apperrors.New(apperrors.ErrCodeCopyNotFound, "部分副本不存在")

	// ErrBarcodeNotFound 条码不存在
	ErrBarcodeNotFound = apperrors.New(apperrors.ErrCodeBarcodeNotFound, "条码不存在")

	// ErrCopyUnavailable 副本不可借(已借出或已下架)
	ErrCopyUnavailable = apperrors.New(apperrors.ErrCodeCopyUnavailable, "部分副本当前不可借")

	// ErrInvalidCopyRef 副本标识非法
	ErrInvalidCopyRef = apperrors.New(apperrors.ErrCodeInvalidRef, "必须提供副本ID或条码")

	// ErrEmptyBatch 批次为空
	ErrEmptyBatch = apperrors.New(apperrors.ErrCodeEmptyBatch, "副本列表不能为空")

	// ErrInvalidStatusTransition 非法的状态流转
	ErrInvalidStatusTransition = apperrors.New(apperrors.ErrCodeInvalidStatus, "副本状态不允许此操作")
)

// NewBarcodeNotFoundError 指明具体条码的不存在错误
func NewBarcodeNotFoundError(barcode string) *apperrors.AppError {
	err := ErrBarcodeNotFound.WithDetails(map[string]string{"barcode": barcode})
	err.Message = "条码不存在: " + barcode
	return err
}

// NewUnavailableError 指明不可借的副本ID
func NewUnavailableError(copyIDs []uint) *apperrors.AppError {
	err := ErrCopyUnavailable.WithDetails(map[string][]uint{"copy_ids": copyIDs})
	err.Message = fmt.Sprintf("%s: %v", ErrCopyUnavailable.Message, copyIDs)
	return err
}
