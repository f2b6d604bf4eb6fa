package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	TooManyRequests    = 429
	ServerCommonError  = 500
	DbError            = 501
	UpstreamError      = 502
	CircuitOpenError   = 503
)

// Kind 行情链路的错误分类，决定重试/熔断/降级策略
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindTransient 网络抖动、超时，可重试
	KindTransient
	// KindRateLimited 上游限流（429 / crumb），计入熔断
	KindRateLimited
	// KindCircuitOpen 熔断打开，直接失败，没有发起网络请求
	KindCircuitOpen
	// KindNotFound 当前数据源不认识这个 symbol，其它数据源可能认识
	KindNotFound
	// KindMappingUnavailable symbol 翻译失败，直接丢弃
	KindMappingUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindNotFound:
		return "not_found"
	case KindMappingUnavailable:
		return "mapping_unavailable"
	default:
		return "unknown"
	}
}

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Kind  Kind   `json:"-"`
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// Is 同 Kind 的 CodeError 视为相等，方便 errors.Is(err, xerr.ErrNotFound)
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	if t.Kind != KindUnknown {
		return e.Kind == t.Kind
	}
	return e.Code == t.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 带上分类和原始错误
func Wrap(kind Kind, cause error, msg string) error {
	return &CodeError{Code: codeOf(kind), Msg: msg, Kind: kind, cause: cause}
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrTransient          = &CodeError{Code: UpstreamError, Msg: "upstream transient error", Kind: KindTransient}
	ErrRateLimited        = &CodeError{Code: TooManyRequests, Msg: "upstream rate limited", Kind: KindRateLimited}
	ErrCircuitOpen        = &CodeError{Code: CircuitOpenError, Msg: "circuit open", Kind: KindCircuitOpen}
	ErrNotFound           = &CodeError{Code: RecordNotFound, Msg: "not found", Kind: KindNotFound}
	ErrMappingUnavailable = &CodeError{Code: RequestParamsError, Msg: "symbol mapping unavailable", Kind: KindMappingUnavailable}
)

func Transient(cause error) error   { return Wrap(KindTransient, cause, ErrTransient.Msg) }
func RateLimited(cause error) error { return Wrap(KindRateLimited, cause, ErrRateLimited.Msg) }
func CircuitOpen(cause error) error { return Wrap(KindCircuitOpen, cause, ErrCircuitOpen.Msg) }
func NotFound(cause error) error    { return Wrap(KindNotFound, cause, ErrNotFound.Msg) }
func MappingUnavailable(symbol string) error {
	return Wrap(KindMappingUnavailable, nil, "symbol mapping unavailable: "+symbol)
}

// KindOf 取错误链上第一个 CodeError 的分类
func KindOf(err error) Kind {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

func codeOf(k Kind) int {
	switch k {
	case KindTransient:
		return UpstreamError
	case KindRateLimited:
		return TooManyRequests
	case KindCircuitOpen:
		return CircuitOpenError
	case KindNotFound:
		return RecordNotFound
	case KindMappingUnavailable:
		return RequestParamsError
	default:
		return ServerCommonError
	}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case TooManyRequests:
		return "请求过于频繁"
	case UpstreamError:
		return "行情源暂不可用"
	case CircuitOpenError:
		return "行情源熔断中"
	default:
		return "未知错误"
	}
}
