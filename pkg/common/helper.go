package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stockx.com/pkg/logger"
	"stockx.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

// Fail 错误返回只要 code/message/data=null
func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailFromErr 对外只回 biz_code + message，不透出上游的原始错误
func FailFromErr(c *gin.Context, err error) {
	httpStatus, code, msg := mapErrToHTTP(err)
	if httpStatus >= http.StatusInternalServerError {
		FailLogged(c, httpStatus, code, msg, err)
		return
	}
	Fail(c, httpStatus, code, msg)
}

func mapErrToHTTP(err error) (httpStatus, code int, msg string) {
	switch xerr.KindOf(err) {
	case xerr.KindNotFound:
		return http.StatusNotFound, xerr.RecordNotFound, xerr.MapErrMsg(xerr.RecordNotFound)
	case xerr.KindMappingUnavailable:
		return http.StatusBadRequest, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError)
	case xerr.KindRateLimited:
		return http.StatusTooManyRequests, xerr.TooManyRequests, xerr.MapErrMsg(xerr.TooManyRequests)
	case xerr.KindCircuitOpen:
		return http.StatusServiceUnavailable, xerr.CircuitOpenError, xerr.MapErrMsg(xerr.CircuitOpenError)
	case xerr.KindTransient:
		return http.StatusBadGateway, xerr.UpstreamError, xerr.MapErrMsg(xerr.UpstreamError)
	default:
		return http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError)
	}
}
