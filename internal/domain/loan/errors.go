package loan

import (
	"fmt"
	"strings"

	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

// 借阅领域错误定义
var (
	// ErrLoanNotFound 借阅记录不存在
	ErrLoanNotFound = apperrors.New(apperrors.ErrCodeLoanNotFound, "借阅记录不存在")

	// ErrInvalidLoanID 借阅记录ID为空
	ErrInvalidLoanID = apperrors.New(apperrors.ErrCodeInvalidParams, "借阅记录ID不能为空")

	// ErrLoanNotActive 部分副本不是该用户的在借记录
	ErrLoanNotActive = apperrors.New(apperrors.ErrCodeLoanNotActive, "部分副本未被该用户借出")

	// ErrQuotaExceeded 借阅额度超限
	ErrQuotaExceeded = apperrors.New(apperrors.ErrCodeQuotaExceeded, "借阅额度超限")
)

// NewNotActiveError 指明不是该用户在借的副本ID
func NewNotActiveError(copyIDs []uint) *apperrors.AppError {
	err := ErrLoanNotActive.WithDetails(map[string][]uint{"copy_ids": copyIDs})
	err.Message = fmt.Sprintf("%s: %v", ErrLoanNotActive.Message, copyIDs)
	return err
}

// NewQuotaError 将超限详情转换为错误
// Message拼接每个分类的"X limit exceeded: current c, requested r, max m"
func NewQuotaError(violations []QuotaViolation) *apperrors.AppError {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	err := ErrQuotaExceeded.WithDetails(violations)
	err.Message = strings.Join(parts, "; ")
	return err
}
