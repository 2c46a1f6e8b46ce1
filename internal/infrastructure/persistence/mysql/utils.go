package mysql

import (
	"context"
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

// MySQL错误码
const (
	errLockWaitTimeout = 1205 // Lock wait timeout exceeded
	errDeadlock        = 1213 // Deadlock found when trying to get lock
	errDuplicateEntry  = 1062 // Duplicate entry 'xxx' for key 'yyy'
)

// forUpdate SELECT ... FOR UPDATE
var forUpdate = clause.Locking{Strength: "UPDATE"}

// translateError 把驱动错误转换为应用错误
//
//  1. 已经是AppError(领域错误)原样返回
//  2. 锁等待超时/死锁/上下文超时 → 可重试的冲突(ErrCodeLockContention)
//  3. 唯一索引冲突 → ErrCodeDuplicateEntry
//  4. 其他 → 数据库错误(Internal),原始错误只进日志
func translateError(err error, message string) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	if isLockContention(err) {
		return apperrors.WrapCode(err, apperrors.ErrCodeLockContention, apperrors.ErrLockContention.Message)
	}
	if isDuplicateError(err) {
		return apperrors.WrapCode(err, apperrors.ErrCodeDuplicateEntry, apperrors.ErrDuplicateEntry.Message)
	}
	return apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, message)
}

// isLockContention 判断是否为行锁竞争失败
func isLockContention(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockWaitTimeout || myErr.Number == errDeadlock
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// isDuplicateError 判断是否为MySQL唯一索引冲突错误
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDuplicateEntry
	}
	// 兼容检查:错误信息包含"Duplicate entry"
	return strings.Contains(err.Error(), "Duplicate entry")
}
