package ops

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiebiao/circulation/internal/application/circulation"
	apperrors "github.com/xiebiao/circulation/pkg/errors"
	"github.com/xiebiao/circulation/pkg/response"
)

type handler struct {
	queries      LoanQueries
	checks       map[string]Check
	checkTimeout time.Duration
}

// dueLoansQuery GET /loans/due 的查询参数
type dueLoansQuery struct {
	WithinDays int  `form:"within_days" binding:"min=0"`
	AfterID    uint `form:"after_id"`
	Limit      int  `form:"limit" binding:"min=0,max=1000"`
}

type userURI struct {
	ID uint `uri:"id" binding:"required"`
}

// CheckResult 单个就绪检查的结果
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// Ping 存活检查
func (h *handler) Ping(c *gin.Context) {
	response.Success(c, gin.H{
		"message": "pong",
		"status":  "healthy",
	})
}

// Ready 就绪检查
// 所有依赖都可用时返回200,否则返回503并列出失败项
func (h *handler) Ready(c *gin.Context) {
	results := h.runChecks(c.Request.Context())

	var failed []string
	for _, r := range results {
		if !r.OK {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		response.ErrorWithStatus(c, http.StatusServiceUnavailable, apperrors.ErrCodeInternal, "依赖不可用", results)
		return
	}
	response.Success(c, results)
}

// runChecks 并发执行检查,结果按名称排序
func (h *handler) runChecks(ctx context.Context) []CheckResult {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	done := make(chan struct{}, len(names))
	for i, name := range names {
		go func(i int, name string) {
			defer func() { done <- struct{}{} }()

			checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()

			start := time.Now()
			err := h.checks[name](checkCtx)
			results[i] = CheckResult{Name: name, OK: err == nil, Elapsed: time.Since(start).String()}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, name)
	}
	for range names {
		<-done
	}
	return results
}

// DueLoans 到期/逾期借阅
func (h *handler) DueLoans(c *gin.Context) {
	var q dueLoansQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperrors.WrapCode(err, apperrors.ErrCodeBindError, "参数格式错误: "+err.Error()))
		return
	}

	resp, err := h.queries.DueLoans(c.Request.Context(), circulation.DueLoansRequest{
		WithinDays: q.WithinDays,
		AfterID:    q.AfterID,
		Limit:      q.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// ActiveLoans 用户在借记录
func (h *handler) ActiveLoans(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperrors.WrapCode(err, apperrors.ErrCodeBindError, "用户ID格式错误"))
		return
	}

	loans, err := h.queries.ActiveLoans(c.Request.Context(), uri.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, loans)
}
