package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// Newf 创建带格式化消息的 CodeError
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// From 从任意 error 提取 CodeError；非 CodeError 一律按系统错误处理
func From(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrServerError
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "internal error")
	ErrParam       = New(BadRequest, "invalid parameter")

	ErrKBNotFound           = New(NotFound, "knowledge base not found")
	ErrDocumentNotFound     = New(NotFound, "document not found")
	ErrUnsupportedFormat    = New(BadRequest, "unsupported content type")
	ErrSizeExceeded         = New(BadRequest, "document size exceeds limit")
	ErrDimensionMismatch    = New(BadRequest, "embedding dimension mismatch")
	ErrRebuildInProgress    = New(Conflict, "rebuild already in progress")
	ErrRetrievalUnavailable = New(ServiceUnavailable, "retrieval backend unavailable")
)
