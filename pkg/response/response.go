package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 账本业务错误码
const (
	CodeInsufficientFunds      = 1001
	CodeInvalidAmount          = 1002
	CodeDailyCapExceeded       = 1003
	CodeMonthlyCapExceeded     = 1004
	CodeDuplicateAward         = 1005
	CodeConcurrentModification = 1006
	CodeUnknownConfigKey       = 1007
	CodeReferralExists         = 1008
	CodeReferralNotFound       = 1009
	CodeSelfReferral           = 1010
	CodeInvalidEvent           = 1011
	CodeSystemKind             = 1012
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
