package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/xiebiao/circulation/pkg/errors"
)

// Response 统一响应结构
// 设计说明：
// 1. Code是业务错误码（非HTTP状态码），方便客户端判断错误类型
// 2. Message是用户友好的提示信息
// 3. Data是业务数据，成功时返回；失败时携带AppError.Details（如冲突的副本ID）
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应（Code=0表示成功）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应（HTTP状态码由错误分类决定）
// 内部错误只返回通用提示，原始错误通过c.Error交给日志中间件
//
//	if err := check(ctx); err != nil {
//	    response.Error(c, err)
//	    return
//	}
func Error(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	_ = c.Error(err)

	resp := Response{
		Code:    appErr.Code,
		Message: appErr.Message,
		Data:    appErr.Details,
	}
	if appErr.Kind() == apperrors.KindInternal {
		resp.Code = apperrors.ErrCodeInternal
		resp.Message = apperrors.ErrInternal.Message
		resp.Data = nil
	}
	c.JSON(StatusOf(appErr.Kind()), resp)
}

// ErrorWithStatus 自定义HTTP状态码、错误码和数据（就绪检查失败时使用）
func ErrorWithStatus(c *gin.Context, status, code int, message string, data interface{}) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// StatusOf 错误分类 → HTTP状态码
func StatusOf(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindInvalidRequest:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindQuotaExceeded:
		return http.StatusUnprocessableEntity
	case apperrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
