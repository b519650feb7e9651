package exchange

import "fmt"

// AuthError 凭证错误，对该钱包是终态，需用户重新绑定
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string {
	return "exchange auth error: " + e.Msg
}

// NetworkError 传输层失败，属瞬态错误（引擎不自动重试，留给下次事件）
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("exchange network error (%s): %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ExchangeError 交易所拒绝请求，携带原始错误码和消息
type ExchangeError struct {
	Code string
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error: %s (code: %s)", e.Msg, e.Code)
}

// ValidationError 请求参数不合法（数量为零、缺少必填字段等）
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "exchange validation error: " + e.Msg
}
