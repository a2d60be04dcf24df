package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorKind string

const (
	// KindTransient — сетевой сбой, rate limit или 5xx: можно повторять.
	KindTransient ErrorKind = "transient"
	// KindRejected — бизнес-отказ биржи: повтор бессмысленен.
	KindRejected ErrorKind = "rejected"
	// KindAuth — невалидная подпись или ключ: фатально для канала.
	KindAuth ErrorKind = "auth"
	// KindExhausted — повторы закончились, внутри лежит последняя ошибка.
	KindExhausted ErrorKind = "exhausted"
)

type Error struct {
	Kind ErrorKind
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("Ошибка биржи: %s (code=%d, kind=%s)", e.Msg, e.Code, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("Ошибка биржи (kind=%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("Ошибка биржи (kind=%s): %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func WrapTransient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

func Exhausted(last error) *Error {
	return &Error{Kind: KindExhausted, Err: last}
}

// Коды Bybit v5, от которых зависит маршрутизация повторов.
const (
	codeRateLimit        = 10006
	codeServerTimeout    = 10016
	codeServiceError     = 10002
	codeInvalidAPIKey    = 10003
	codeInvalidSignature = 10004
	codeAPIKeyExpired    = 33004
	codeOrderNotExist    = 110001
	codeDuplicateLinkID  = 110072
)

// ClassifyRetCode переводит retCode ответа в разновидность ошибки.
func ClassifyRetCode(code int, msg string) *Error {
	switch code {
	case 0:
		return nil
	case codeRateLimit, codeServerTimeout, codeServiceError:
		return &Error{Kind: KindTransient, Code: code, Msg: msg}
	case codeInvalidAPIKey, codeInvalidSignature, codeAPIKeyExpired:
		return &Error{Kind: KindAuth, Code: code, Msg: msg}
	default:
		return &Error{Kind: KindRejected, Code: code, Msg: msg}
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTransient: сетевые ошибки и таймауты считаются временными,
// даже если слой транспорта не обернул их в *Error.
func IsTransient(err error) bool {
	if kind, ok := kindOf(err); ok {
		return kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func IsRejected(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindRejected
}

func IsAuthError(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindAuth
}

func IsExhausted(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindExhausted
}

func IsOrderNotExist(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == codeOrderNotExist
}

func IsDuplicateLinkID(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == codeDuplicateLinkID
}
