package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"prodtrack/internal/apperr"
)

// writeError 把服务层错误映射为 HTTP 状态码。
// 统一在这里分级，各 handler 不自行判断错误类型。
func writeError(c *gin.Context, err error) {
	var (
		ve  *apperr.ValidationError
		pe  *apperr.PermissionError
		ise *apperr.InvalidStateError
		dde *apperr.DuplicateDecisionError
		nfe *apperr.NotFoundError
	)

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &pe):
		c.JSON(http.StatusForbidden, gin.H{"error": pe.Error()})
	case errors.As(err, &ise):
		c.JSON(http.StatusConflict, gin.H{"error": ise.Error()})
	case errors.As(err, &dde):
		c.JSON(http.StatusConflict, gin.H{"error": dde.Error()})
	case errors.As(err, &nfe):
		c.JSON(http.StatusNotFound, gin.H{"error": nfe.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// currentUserID 取 AuthMiddleware 放进上下文的用户 id
func currentUserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}
